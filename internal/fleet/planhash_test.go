package fleet

import (
	"encoding/json"
	"testing"
)

func TestPlanHash_KeyOrderIndependent(t *testing.T) {
	a := json.RawMessage(`{"target_depth_m":30,"hold_at_depth_s":120,"cycles":1}`)
	b := json.RawMessage(`{"cycles":1,"hold_at_depth_s":120,"target_depth_m":30}`)

	ha, err := PlanHash(KindRunDive, a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := PlanHash(KindRunDive, b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("hash differs across key order: %s vs %s", ha, hb)
	}
}

func TestPlanHash_NumberFormIndependent(t *testing.T) {
	a := json.RawMessage(`{"target_depth_m":30}`)
	b := json.RawMessage(`{"target_depth_m":30.0}`)
	c := json.RawMessage(`{"target_depth_m":3e1}`)

	ha, _ := PlanHash(KindRunDive, a)
	hb, _ := PlanHash(KindRunDive, b)
	hc, _ := PlanHash(KindRunDive, c)
	if ha != hb || hb != hc {
		t.Errorf("numeric forms of 30 hash differently: %s %s %s", ha, hb, hc)
	}
}

func TestPlanHash_ValueSensitive(t *testing.T) {
	a := json.RawMessage(`{"target_depth_m":30}`)
	b := json.RawMessage(`{"target_depth_m":31}`)

	ha, _ := PlanHash(KindRunDive, a)
	hb, _ := PlanHash(KindRunDive, b)
	if ha == hb {
		t.Error("different depths must not collide")
	}
}

func TestPlanHash_CommandSensitive(t *testing.T) {
	args := json.RawMessage(`{"target_depth_m":30}`)

	ha, _ := PlanHash(KindRunDive, args)
	hb, _ := PlanHash(CommandKind("ABORT"), args)
	if ha == hb {
		t.Error("different commands must not collide")
	}
}

func TestPlanHash_LargeIntegerPrecision(t *testing.T) {
	// Beyond float64's exact integer range; adjacent values must differ.
	a := json.RawMessage(`{"n":9007199254740993}`)
	b := json.RawMessage(`{"n":9007199254740994}`)

	ha, _ := PlanHash(KindRunDive, a)
	hb, _ := PlanHash(KindRunDive, b)
	if ha == hb {
		t.Error("adjacent large integers collapsed to the same hash")
	}
}

func TestPlanHash_NestedAndArrays(t *testing.T) {
	a := json.RawMessage(`{"plan":{"legs":[{"d":10},{"d":20.0}]}}`)
	b := json.RawMessage(`{"plan":{"legs":[{"d":10.0},{"d":20}]}}`)

	ha, err := PlanHash(KindRunDive, a)
	if err != nil {
		t.Fatal(err)
	}
	hb, _ := PlanHash(KindRunDive, b)
	if ha != hb {
		t.Error("nested structures with equivalent numbers hash differently")
	}
}

func TestPlanHash_RejectsInvalidArgs(t *testing.T) {
	if _, err := PlanHash(KindRunDive, json.RawMessage(`{"broken"`)); err == nil {
		t.Error("expected error for malformed args")
	}
}
