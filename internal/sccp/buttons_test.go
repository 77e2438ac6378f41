package sccp

import "testing"

func TestModelButtons(t *testing.T) {
	tests := []struct {
		name       string
		deviceType uint32
		wantLen    int
		wantFirst  uint32
	}{
		{name: "7960", deviceType: Device7960, wantLen: 6, wantFirst: ButtonCustLineSpeedD},
		{name: "7940", deviceType: Device7940, wantLen: 2, wantFirst: ButtonCustLineSpeedD},
		{name: "7970", deviceType: Device7970, wantLen: 8, wantFirst: ButtonCustLineSpeedD},
		{name: "7910", deviceType: Device7910, wantLen: 10, wantFirst: StimulusLine},
		{name: "7912", deviceType: Device7912, wantLen: 2, wantFirst: StimulusLine},
		{name: "7935 conference station", deviceType: Device7935, wantLen: 2, wantFirst: StimulusLine},
		{name: "30SP plus", deviceType: Device30SPPlus, wantLen: 26, wantFirst: ButtonCustLine},
		{name: "12SP plus", deviceType: Device12SPPlus, wantLen: 12, wantFirst: ButtonCustLine},
		{name: "unknown code", deviceType: 0xBEEF, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ModelButtons(tt.deviceType)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0] != tt.wantFirst {
				t.Errorf("first button = 0x%02X, want 0x%02X", got[0], tt.wantFirst)
			}
		})
	}
}

func TestAddonButtons(t *testing.T) {
	if got := AddonButtons("7914"); len(got) != 14 {
		t.Errorf("7914 addon slots = %d, want 14", len(got))
	}
	if got := AddonButtons("7915"); got != nil {
		t.Errorf("unknown addon = %v, want nil", got)
	}
}

func TestDefaultSoftKeyTemplate(t *testing.T) {
	tmpl := DefaultSoftKeyTemplate()
	if len(tmpl) != 20 {
		t.Fatalf("template length = %d, want 20", len(tmpl))
	}
	// Events are 1-based template positions in order.
	for i, k := range tmpl {
		if k.Event != uint32(i+1) {
			t.Errorf("entry %d event = %d, want %d", i, k.Event, i+1)
		}
		if k.Label == "" {
			t.Errorf("entry %d has empty label", i)
		}
	}
}

func TestDefaultKeySets(t *testing.T) {
	sets := DefaultKeySets()
	if len(sets) != 11 {
		t.Fatalf("keyset count = %d, want 11", len(sets))
	}

	tests := []struct {
		name  string
		set   uint32
		first uint32
		count int
	}{
		{name: "onhook", set: KeySetOnHook, first: SoftKeyRedial, count: 5},
		{name: "connected", set: KeySetConnected, first: SoftKeyHold, count: 6},
		{name: "onhold", set: KeySetOnHold, first: SoftKeyResume, count: 4},
		{name: "ringin", set: KeySetRingIn, first: SoftKeyAnswer, count: 3},
		{name: "dadfd", set: KeySetDADFD, first: SoftKeyBkspc, count: 2},
		{name: "ringout", set: KeySetRingOut, first: SoftKeyNone, count: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := sets[tt.set].Keys
			if len(keys) != tt.count {
				t.Fatalf("key count = %d, want %d", len(keys), tt.count)
			}
			if keys[0] != tt.first {
				t.Errorf("first key = %d, want %d", keys[0], tt.first)
			}
		})
	}
}
