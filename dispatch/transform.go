package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/BeamMP/BeamMP-Server/gameerr"
)

// transform is the JSON body of a `Z` position-update packet (spec.md
// §4.6: "JSON with fields rvel, tim, pos, ping, rot, vel (arrays of 3
// doubles, except rot which is 4)").
type transform struct {
	RVel [3]float64 `json:"rvel"`
	Tim  float64    `json:"tim"`
	Pos  [3]float64 `json:"pos"`
	Ping float64    `json:"ping"`
	Rot  [4]float64 `json:"rot"`
	Vel  [3]float64 `json:"vel"`
}

func parseTransform(body []byte) (transform, error) {
	var t transform
	if err := json.Unmarshal(body, &t); err != nil {
		return transform{}, gameerr.New(gameerr.Protocol, "dispatch.transform.json", fmt.Errorf("malformed transform JSON: %w", err))
	}
	return t, nil
}
