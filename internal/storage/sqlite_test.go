package storage

import (
	"context"
	"path/filepath"
	"testing"

	kit "mediavault/internal/transport"
	"mediavault/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "vault.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSaveGroupAndRandomGroupPreservesOrder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	items := []kit.MediaItem{
		{Kind: kit.KindPhoto, FileID: "p1", Caption: "lead", Unix: 100},
		{Kind: kit.KindVideo, FileID: "v1", Unix: 100}, // same timestamp on purpose
		{Kind: kit.KindPhoto, FileID: "p2", Unix: 100},
	}
	n, err := st.SaveGroup(ctx, GroupMeta{Key: "g1", Owner: "bot", ChatID: 5, UserID: 9}, items)
	if err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}
	if n != 3 {
		t.Fatalf("committed = %d, want 3", n)
	}

	key, got, err := st.RandomGroup(ctx, "bot")
	if err != nil {
		t.Fatalf("RandomGroup: %v", err)
	}
	if key != "g1" || len(got) != 3 {
		t.Fatalf("key=%q items=%d", key, len(got))
	}
	for i, want := range []string{"p1", "v1", "p2"} {
		if got[i].FileID != want {
			t.Fatalf("item %d = %s, want %s (insertion order lost)", i, got[i].FileID, want)
		}
	}
}

func TestRandomGroupScopedByOwner(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	_, err := st.SaveGroup(ctx, GroupMeta{Key: "g1", Owner: "other", ChatID: 1, UserID: 1},
		[]kit.MediaItem{{Kind: kit.KindPhoto, FileID: "x"}})
	if err != nil {
		t.Fatalf("SaveGroup: %v", err)
	}

	key, items, err := st.RandomGroup(ctx, "bot")
	if err != nil {
		t.Fatalf("RandomGroup: %v", err)
	}
	if key != "" || items != nil {
		t.Fatalf("expected empty draw, got key=%q items=%v", key, items)
	}
}

func TestSaveGroupRepeatedKeyGrowsItemCount(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	meta := GroupMeta{Key: "g2", Owner: "bot", ChatID: 1, UserID: 1, Username: "alice"}
	if _, err := st.SaveGroup(ctx, meta, []kit.MediaItem{{Kind: kit.KindPhoto, FileID: "a"}}); err != nil {
		t.Fatalf("first SaveGroup: %v", err)
	}
	// Same key again; metadata differs but must not overwrite.
	late := meta
	late.Username = "mallory"
	if _, err := st.SaveGroup(ctx, late, []kit.MediaItem{{Kind: kit.KindPhoto, FileID: "b"}}); err != nil {
		t.Fatalf("second SaveGroup: %v", err)
	}

	_, items, err := st.RandomGroup(ctx, "bot")
	if err != nil {
		t.Fatalf("RandomGroup: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].FileID != "a" || items[1].FileID != "b" {
		t.Fatalf("late items must append after the originals: %v", items)
	}
}

func TestSaveSingleReplacesOnResend(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	first := SingleItem{
		Owner: "bot", ChatID: 1, UserID: 2,
		Item: kit.MediaItem{Kind: kit.KindVideo, FileID: "f1", Caption: "old", Duration: 10, Unix: 100},
	}
	if err := st.SaveSingle(ctx, first); err != nil {
		t.Fatalf("SaveSingle: %v", err)
	}

	second := first
	second.Item.Caption = "new"
	second.Item.Unix = 200
	if err := st.SaveSingle(ctx, second); err != nil {
		t.Fatalf("SaveSingle resend: %v", err)
	}

	got, err := st.RandomSingle(ctx, "bot")
	if err != nil {
		t.Fatalf("RandomSingle: %v", err)
	}
	if got == nil {
		t.Fatal("expected a stored item")
	}
	if got.Item.Caption != "new" || got.Item.Unix != 200 {
		t.Fatalf("resend did not replace: %+v", got.Item)
	}

	// Exactly one row must remain: draws always return the same file.
	for i := 0; i < 5; i++ {
		again, err := st.RandomSingle(ctx, "bot")
		if err != nil || again == nil || again.Item.FileID != "f1" {
			t.Fatalf("draw %d = %+v, err=%v", i, again, err)
		}
	}
}

func TestRandomSingleEmpty(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	got, err := st.RandomSingle(context.Background(), "bot")
	if err != nil {
		t.Fatalf("RandomSingle: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{}, logx.Nop())
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}
