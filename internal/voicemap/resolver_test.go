package voicemap

import (
	"context"
	"testing"
)

func testPools() Pools {
	return Pools{
		NarratorVoice: "nv-narrator",
		Female:        []string{"f-0", "f-1", "f-2"},
		Male:          []string{"m-0", "m-1"},
	}
}

func TestSpeakerKey(t *testing.T) {
	cases := []struct {
		id, name, want string
	}{
		{"char-7", "Mina", "char-7"},
		{"", "Mina", "name:Mina"},
		{"", "", ""},
		{"  ", " Juno ", "name:Juno"},
	}
	for _, tc := range cases {
		if got := SpeakerKey(tc.id, tc.name); got != tc.want {
			t.Fatalf("SpeakerKey(%q, %q) = %q, want %q", tc.id, tc.name, got, tc.want)
		}
	}
}

func TestKeyHashPinnedConstants(t *testing.T) {
	// h = h*31 + b over UTF-8 bytes. These literals lock the contract.
	cases := []struct {
		key  string
		want uint32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 97*31 + 98},
		{"abc", (97*31+98)*31 + 99},
	}
	for _, tc := range cases {
		if got := KeyHash(tc.key); got != tc.want {
			t.Fatalf("KeyHash(%q) = %d, want %d", tc.key, got, tc.want)
		}
	}
}

func TestResolveExplicitMappingWins(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_ = store.Put(ctx, Entry{SpeakerKey: "char-7", Voice: "v-custom"})
	r := NewResolver(store, testPools())

	voice, ok := r.Resolve(ctx, "char-7", "Mina")
	if !ok || voice != "v-custom" {
		t.Fatalf("Resolve = (%q, %v), want (v-custom, true)", voice, ok)
	}
}

func TestResolveAutoGenderPoolsDeterministic(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_ = store.Put(ctx, Entry{SpeakerKey: "char-f", Voice: AutoFemale})
	_ = store.Put(ctx, Entry{SpeakerKey: "char-m", Voice: AutoMale})
	pools := testPools()
	r := NewResolver(store, pools)

	wantF := pools.Female[int(KeyHash("char-f")%uint32(len(pools.Female)))]
	wantM := pools.Male[int(KeyHash("char-m")%uint32(len(pools.Male)))]

	for i := 0; i < 5; i++ {
		if voice, ok := r.Resolve(ctx, "char-f", ""); !ok || voice != wantF {
			t.Fatalf("AUTO_FEMALE resolve = (%q, %v), want (%q, true)", voice, ok, wantF)
		}
		if voice, ok := r.Resolve(ctx, "char-m", ""); !ok || voice != wantM {
			t.Fatalf("AUTO_MALE resolve = (%q, %v), want (%q, true)", voice, ok, wantM)
		}
	}
}

func TestResolveNarratorFallbackChain(t *testing.T) {
	ctx := context.Background()

	r := NewResolver(NewInMemoryStore(), testPools())
	if voice, ok := r.Resolve(ctx, "", ""); !ok || voice != "nv-narrator" {
		t.Fatalf("narrator resolve = (%q, %v), want (nv-narrator, true)", voice, ok)
	}

	noNarrator := testPools()
	noNarrator.NarratorVoice = ""
	r = NewResolver(NewInMemoryStore(), noNarrator)
	if voice, ok := r.Resolve(ctx, "", ""); !ok || voice != "f-0" {
		t.Fatalf("narrator fallback = (%q, %v), want (f-0, true)", voice, ok)
	}

	malesOnly := Pools{Male: []string{"m-0"}}
	r = NewResolver(NewInMemoryStore(), malesOnly)
	if voice, ok := r.Resolve(ctx, "", ""); !ok || voice != "m-0" {
		t.Fatalf("narrator last fallback = (%q, %v), want (m-0, true)", voice, ok)
	}
}

func TestResolveNamedSpeakerHashPick(t *testing.T) {
	ctx := context.Background()
	pools := testPools()
	r := NewResolver(NewInMemoryStore(), pools)

	key := "name:Juno"
	want := pools.Female[int(KeyHash(key)%uint32(len(pools.Female)))]
	voice, ok := r.Resolve(ctx, key, "Juno")
	if !ok || voice != want {
		t.Fatalf("named resolve = (%q, %v), want (%q, true)", voice, ok, want)
	}

	// Female pool preferred; males used only when no female voices exist.
	malesOnly := Pools{Male: []string{"m-0", "m-1"}}
	r = NewResolver(NewInMemoryStore(), malesOnly)
	wantM := malesOnly.Male[int(KeyHash(key)%uint32(len(malesOnly.Male)))]
	if voice, ok := r.Resolve(ctx, key, "Juno"); !ok || voice != wantM {
		t.Fatalf("male-pool resolve = (%q, %v), want (%q, true)", voice, ok, wantM)
	}
}

func TestResolveUnresolvedIsNotAnError(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewInMemoryStore(), Pools{})
	if voice, ok := r.Resolve(ctx, "name:Ghost", "Ghost"); ok || voice != "" {
		t.Fatalf("empty pools resolve = (%q, %v), want (\"\", false)", voice, ok)
	}
}

func TestResolveClearMappingFallsBackFresh(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	pools := testPools()
	r := NewResolver(store, pools)
	key := "char-9"

	_ = store.Put(ctx, Entry{SpeakerKey: key, Voice: "v-explicit"})
	if voice, _ := r.Resolve(ctx, key, ""); voice != "v-explicit" {
		t.Fatalf("explicit resolve = %q, want v-explicit", voice)
	}

	_ = store.Delete(ctx, key)
	want := pools.Female[int(KeyHash(key)%uint32(len(pools.Female)))]
	voice, ok := r.Resolve(ctx, key, "")
	if !ok || voice != want {
		t.Fatalf("post-clear resolve = (%q, %v), want (%q, true); stale state retained?", voice, ok, want)
	}
}
