// Package dispatch decodes TCP and UDP packets during the Active state
// and either applies their effect directly or opens an approval.Slot for
// script-mediated actions (spec.md §4.5, §4.6). It is driven exclusively
// by the server package's single main tick loop — the "sole mutator of
// gameplay state" per spec.md §5 item 2 — so nothing here takes a lock of
// its own beyond what world.World and session.Session already provide.
package dispatch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BeamMP/BeamMP-Server/approval"
	"github.com/BeamMP/BeamMP-Server/gameerr"
	"github.com/BeamMP/BeamMP-Server/plugin"
	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/session"
	"github.com/BeamMP/BeamMP-Server/world"
)

// Context bundles the collaborators the dispatcher needs on every call.
type Context struct {
	World   *world.World
	Queue   *approval.Queue
	Plugins *plugin.Manager
}

// HandleTCP decodes one Active-state TCP payload from sess and applies or
// queues its effect (spec.md §4.5).
func HandleTCP(ctx *Context, sess *session.Session, payload []byte) error {
	if len(payload) == 0 {
		return gameerr.New(gameerr.Protocol, "dispatch.tcp.empty", fmt.Errorf("empty payload"))
	}

	if protocol.IsRawBroadcast(payload[0]) {
		ctx.World.Broadcast(payload, sess)
		return nil
	}

	switch payload[0] {
	case protocol.CodeFullSync:
		return handleFullSync(ctx, sess)
	case protocol.CodeVehicle:
		return handleVehicle(ctx, sess, payload)
	case protocol.CodeChat:
		return handleChat(ctx, sess, payload)
	default:
		slog.Debug("dispatch: unknown TCP code", "code", payload[0], "player_id", sess.ID)
		return nil
	}
}

func handleFullSync(ctx *Context, sess *session.Session) error {
	sess.EnqueueFrame(protocol.PlayerNameFrame(sess.Identity.Username))

	for _, peer := range ctx.World.Active() {
		if peer == sess {
			continue
		}
		for _, car := range peer.Cars() {
			frame := protocol.FullSyncSpawnFrame(peer.Identity.Roles, peer.Identity.Username, peer.ID, car.ID, car.DescriptorSnapshot())
			sess.EnqueueFrame(frame)
		}
	}

	welcome := fmt.Sprintf("%s joined the server", sess.Identity.Username)
	ctx.World.Broadcast(protocol.NotificationFrame(welcome), sess)
	return nil
}

func handleVehicle(ctx *Context, sess *session.Session, payload []byte) error {
	if len(payload) < 2 {
		return gameerr.New(gameerr.Protocol, "dispatch.vehicle.short", fmt.Errorf("vehicle payload too short"))
	}
	switch payload[1] {
	case protocol.VehicleSpawn:
		return handleSpawn(ctx, sess, payload)
	case protocol.VehicleEdit:
		return handleEdit(ctx, sess, payload)
	case protocol.VehicleDelete:
		return handleDelete(ctx, sess, payload)
	case protocol.VehicleReset, protocol.VehicleTick:
		ctx.World.Broadcast(payload, sess)
		return nil
	case protocol.VehicleMove:
		ctx.World.BroadcastAll(payload)
		return nil
	default:
		slog.Debug("dispatch: unknown vehicle sub-code", "code", payload[1], "player_id", sess.ID)
		return nil
	}
}

func handleSpawn(ctx *Context, sess *session.Session, payload []byte) error {
	parts, err := protocol.ParseSpawnFrame(payload)
	if err != nil {
		return err
	}

	car, err := sess.RegisterCar(parts.Descriptor)
	if err == session.ErrMaxCars {
		sess.EnqueueFrame(payload)
		sess.EnqueueFrame(protocol.VehicleDeleteFrame(sess.ID, parts.VID))
		return nil
	}
	if err != nil {
		return err
	}

	replies := ctx.Plugins.DispatchForReplies(plugin.OnVehicleSpawn, map[string]any{
		"pid": sess.ID, "vid": car.ID, "descriptor": parts.Descriptor,
	})
	ctx.Queue.Submit(approval.NewSpawnSlot(sess.ID, car.ID, parts.Descriptor, payload, replies))
	return nil
}

func handleEdit(ctx *Context, sess *session.Session, payload []byte) error {
	pid, vid, descriptor, err := protocol.ParseEditFrame(payload)
	if err != nil {
		return err
	}
	replies := ctx.Plugins.DispatchForReplies(plugin.OnVehicleEdited, map[string]any{
		"pid": pid, "vid": vid, "descriptor": descriptor,
	})
	ctx.Queue.Submit(approval.NewEditSlot(pid, vid, descriptor, payload, replies))
	return nil
}

func handleDelete(ctx *Context, sess *session.Session, payload []byte) error {
	pid, vid, err := protocol.ParseDeleteFrame(payload)
	if err != nil {
		return err
	}
	if owner, ok := ctx.World.Get(pid); ok {
		owner.UnregisterCar(vid)
	}
	ctx.World.BroadcastAll(payload)
	return nil
}

func handleChat(ctx *Context, sess *session.Session, payload []byte) error {
	name, message, err := protocol.ParseChatFrame(payload)
	if err != nil {
		return err
	}
	if name != sess.Identity.Username {
		return gameerr.New(gameerr.Protocol, "dispatch.chat.identity", fmt.Errorf("chat name %q does not match speaker identity %q", name, sess.Identity.Username))
	}

	replies := ctx.Plugins.DispatchForReplies(plugin.OnChatMessage, map[string]any{
		"pid": sess.ID, "name": name, "message": message,
	})
	ctx.Queue.Submit(approval.NewChatSlot(sess.ID, name, message, replies))
	return nil
}

// HandleUDP decodes one UDP datagram payload (spec.md §4.6), already
// stripped of the `<pid+1><reserved>` header and optionally
// decompressed, originating from sess.
func HandleUDP(ctx *Context, sess *session.Session, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, gameerr.New(gameerr.Protocol, "dispatch.udp.empty", fmt.Errorf("empty datagram payload"))
	}

	if protocol.IsRawBroadcast(payload[0]) {
		return nil, nil // caller rebroadcasts to others; see udpfanout.Fanout.Handle
	}

	switch payload[0] {
	case protocol.CodePong:
		return []byte{protocol.CodePong}, nil
	case protocol.CodePosition:
		return nil, handlePosition(ctx, sess, payload)
	default:
		slog.Debug("dispatch: unknown UDP code", "code", payload[0], "player_id", sess.ID)
		return nil, nil
	}
}

func handlePosition(ctx *Context, sess *session.Session, payload []byte) error {
	pid, vid, body, err := protocol.ParsePositionFrame(payload)
	if err != nil {
		return err
	}

	owner, ok := ctx.World.Get(pid)
	if !ok {
		return nil
	}
	car := owner.Car(vid)
	if car == nil {
		return nil
	}

	t, err := parseTransform(body)
	if err != nil {
		return err
	}
	car.ApplyTransform(t.Pos, t.RVel, t.Vel, t.Rot, t.Tim, t.Ping, time.Now())
	return nil
}
