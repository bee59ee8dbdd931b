package dispatch

import (
	"log/slog"

	"github.com/BeamMP/BeamMP-Server/approval"
	"github.com/BeamMP/BeamMP-Server/plugin"
	"github.com/BeamMP/BeamMP-Server/protocol"
	"github.com/BeamMP/BeamMP-Server/session"
)

// ApplyApproval applies the approved or vetoed effect for a fully-resolved
// slot (spec.md §4.7 "Approved effects by slot type" / "Vetoed effects").
// Called once per slot returned by approval.Queue.Tick().
func ApplyApproval(ctx *Context, slot *approval.Slot) {
	switch slot.Kind {
	case approval.Join:
		applyJoin(ctx, slot)
	case approval.Chat:
		applyChat(ctx, slot)
	case approval.Spawn:
		applySpawn(ctx, slot)
	case approval.Edit:
		applyEdit(ctx, slot)
	}
}

func applyJoin(ctx *Context, slot *approval.Slot) {
	sess, ok := ctx.World.Get(slot.PlayerID)
	if !ok {
		return
	}
	if slot.Vetoed() {
		sess.Kick("join refused")
		return
	}
	sess.SetState(session.Active)
	ctx.Plugins.Dispatch(plugin.OnPlayerConnecting, map[string]any{"pid": sess.ID, "username": sess.Identity.Username})
	ctx.Plugins.Dispatch(plugin.OnPlayerJoining, map[string]any{"pid": sess.ID, "username": sess.Identity.Username})
}

func applyChat(ctx *Context, slot *approval.Slot) {
	if slot.Vetoed() {
		return
	}
	message := slot.ChatMessage
	if override, ok := slot.ChatOverride(); ok {
		message = override
	}
	ctx.World.BroadcastAll(protocol.ChatFrame(slot.ChatName, message))
}

func applySpawn(ctx *Context, slot *approval.Slot) {
	sess, ok := ctx.World.Get(slot.PlayerID)
	if !ok {
		return
	}
	if slot.Vetoed() {
		sess.EnqueueFrame(slot.RawFrame)
		sess.EnqueueFrame(protocol.VehicleDeleteFrame(slot.PlayerID, slot.VehicleID))
		sess.UnregisterCar(slot.VehicleID)
		return
	}
	ctx.World.BroadcastAll(slot.RawFrame)
}

func applyEdit(ctx *Context, slot *approval.Slot) {
	sess, ok := ctx.World.Get(slot.PlayerID)
	if !ok {
		return
	}
	if slot.Vetoed() {
		sess.EnqueueFrame(protocol.VehicleDeleteFrame(slot.PlayerID, slot.VehicleID))
		sess.UnregisterCar(slot.VehicleID)
		return
	}
	car := sess.Car(slot.VehicleID)
	if car == nil {
		slog.Warn("dispatch: approved edit for missing car", "player_id", slot.PlayerID, "car_id", slot.VehicleID)
		return
	}
	car.SetDescriptor(slot.Descriptor)
	ctx.World.Broadcast(slot.RawFrame, sess)
}
