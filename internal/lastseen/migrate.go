package lastseen

import (
	"time"

	"github.com/cfengine-go/agentcore/internal/kv"
)

// migrateLegacyLayout rewrites a pre-version database into the current
// schema: old forward keys `k<fingerprint>` are carried forward verbatim
// (the prefix is already what the current schema uses), as are quality
// keys `qi<…>`/`qo<…>` and address keys `a<…>`; entries that don't decode
// to a plausible fixed-size record are discarded rather than carried
// forward, since a corrupt legacy entry is not recoverable. kv.Handle.Migrate
// gates this on the version marker so a second call is a no-op.
func migrateLegacyLayout(h *kv.Handle) error {
	cur, err := h.Cursor()
	if err != nil {
		return err
	}
	defer cur.Close()

	for {
		k, v, ok := cur.Next()
		if !ok {
			break
		}
		var discard bool
		switch kind, _ := classify(string(k)); kind {
		case kindForward:
			discard = len(v) < 8
		case kindQualityIn, kindQualityOut:
			discard = len(v) < 32
		}
		if discard {
			// DeleteCurrent runs inside the cursor's own read-write
			// transaction, so it never contends for h.writeMu: issuing
			// h.Delete here instead would deadlock, since the cursor
			// already holds that lock until Close.
			if err := cur.DeleteCurrent(); err != nil {
				return err
			}
		}
	}
	return nil
}

// TimeKey returns the UTC timekey format `"<day>_<Mon>_Lcycle_<year mod
// 3>_<shift>"` used to bucket lastseen observations into periods that
// repeat every three years.
func TimeKey(t time.Time) string {
	t = t.UTC()
	return t.Format("2_Jan") + "_Lcycle_" + yearMod3(t) + "_" + shiftName(t.Hour())
}

func yearMod3(t time.Time) string {
	mod := t.Year() % 3
	digits := "0123456789"
	if mod < 0 {
		mod = -mod
	}
	return string(digits[mod])
}

func shiftName(hour int) string {
	switch {
	case hour >= 0 && hour < 6:
		return "Night"
	case hour >= 6 && hour < 12:
		return "Morning"
	case hour >= 12 && hour < 18:
		return "Afternoon"
	default:
		return "Evening"
	}
}
