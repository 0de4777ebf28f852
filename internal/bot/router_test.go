package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"mediavault/internal/fanout"
	"mediavault/internal/mediagroup"
	"mediavault/internal/random"
	"mediavault/internal/retry"
	"mediavault/internal/storage"
	kit "mediavault/internal/transport"
	"mediavault/pkg/logx"
)

type memStore struct {
	mu      sync.Mutex
	groups  map[string][]kit.MediaItem
	singles map[string]storage.SingleItem
	fail    error
}

func newMemStore() *memStore {
	return &memStore{groups: map[string][]kit.MediaItem{}, singles: map[string]storage.SingleItem{}}
}

func (m *memStore) SaveGroup(_ context.Context, g storage.GroupMeta, items []kit.MediaItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	m.groups[g.Key] = append(m.groups[g.Key], items...)
	return len(items), nil
}

func (m *memStore) SaveSingle(_ context.Context, s storage.SingleItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.singles[s.Item.FileID] = s
	return nil
}

func (m *memStore) RandomSingle(_ context.Context, _ string) (*storage.SingleItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.singles {
		s := s
		return &s, nil
	}
	return nil, nil
}

func (m *memStore) RandomGroup(_ context.Context, _ string) (string, []kit.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, items := range m.groups {
		return k, items, nil
	}
	return "", nil, nil
}

func (m *memStore) Close() error { return nil }

type recordingSender struct {
	mu     sync.Mutex
	texts  []string
	albums int
	medias int
}

func (s *recordingSender) SendAlbum(_ context.Context, _ kit.ChatTarget, _ []kit.MediaItem, _ string) (kit.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.albums++
	return kit.Receipt{ChatTitle: "Archive"}, nil
}

func (s *recordingSender) SendMedia(_ context.Context, _ kit.ChatTarget, _ kit.MediaItem) (kit.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.medias++
	return kit.Receipt{}, nil
}

func (s *recordingSender) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return kit.Receipt{}, nil
}

func (s *recordingSender) textContaining(sub string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.texts {
		if strings.Contains(t, sub) {
			return true
		}
	}
	return false
}

func newTestRouter(st storage.Store, sender kit.Sender, destIDs []int64) *Router {
	log := logx.Nop()
	reg := fanout.NewRegistry(destIDs)
	eng := fanout.NewEngine(fanout.EngineConfig{
		RatePerSec: 1000,
		Retry:      retry.Policy{MaxAttempts: 1},
	}, reg, sender, log)
	sel := random.New(st, "bot", random.DefaultSingleWeight, log)
	return New("bot", st, eng, sel, sender, retry.Policy{MaxAttempts: 1}, log)
}

func mediaMsg(chatID int64, groupKey, fileID string) *kit.Message {
	return &kit.Message{
		ID: 1, GroupKey: groupKey, ChatID: chatID, ChatKind: "private",
		FromID: 7, FromFirst: "Ada", FromUser: "ada",
		Item: &kit.MediaItem{Kind: kit.KindVideo, FileID: fileID, Duration: 12, MIME: "video/mp4", Unix: 100},
	}
}

func TestHandleSingleSavesAndFansOut(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	sender := &recordingSender{}
	r := newTestRouter(st, sender, []int64{-100})

	r.Handle(context.Background(), mediaMsg(5, "", "vid1"))

	if _, ok := st.singles["vid1"]; !ok {
		t.Fatal("single item not persisted")
	}
	if sender.medias != 1 {
		t.Fatalf("fanout media sends = %d, want 1", sender.medias)
	}
	if !sender.textContaining("Saved") {
		t.Fatalf("missing save confirmation; texts = %v", sender.texts)
	}
	if !sender.textContaining("Forward complete") {
		t.Fatalf("missing forward report; texts = %v", sender.texts)
	}
}

func TestHandlePersistenceFailureNotifiesWithCode(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.fail = &storage.Error{Code: "DB_TX", Op: "save_single"}
	sender := &recordingSender{}
	r := newTestRouter(st, sender, nil)

	r.Handle(context.Background(), mediaMsg(5, "", "vid1"))

	if !sender.textContaining("DB_TX") {
		t.Fatalf("failure notice must carry the code; texts = %v", sender.texts)
	}
	if sender.medias != 0 {
		t.Fatal("failed commit must not fan out")
	}
}

func TestAlbumFlowThroughBuffer(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	sender := &recordingSender{}
	r := newTestRouter(st, sender, []int64{-100})
	r.SetBuffer(mediagroup.New(30*time.Millisecond, r.CommitBatch, logx.Nop()))

	r.Handle(context.Background(), mediaMsg(5, "alb1", "p1"))
	r.Handle(context.Background(), mediaMsg(5, "alb1", "p2"))
	time.Sleep(120 * time.Millisecond)

	if got := len(st.groups["alb1"]); got != 2 {
		t.Fatalf("persisted items = %d, want 2", got)
	}
	if sender.albums != 1 {
		t.Fatalf("album fanout sends = %d, want 1", sender.albums)
	}
	if !sender.textContaining("Saved 2 files") {
		t.Fatalf("texts = %v", sender.texts)
	}
}

func TestRunPreservesAlbumArrivalOrder(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	sender := &recordingSender{}
	r := newTestRouter(st, sender, nil)
	r.SetBuffer(mediagroup.New(50*time.Millisecond, r.CommitBatch, logx.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()

	const parts = 40
	for i := 0; i < parts; i++ {
		updates <- kit.Update{Message: mediaMsg(5, "alb-order", fmt.Sprintf("f%03d", i))}
	}
	close(updates)
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for {
		st.mu.Lock()
		n := len(st.groups["alb-order"])
		st.mu.Unlock()
		if n == parts {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("persisted %d of %d parts before deadline", n, parts)
		}
		time.Sleep(10 * time.Millisecond)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for i, it := range st.groups["alb-order"] {
		if want := fmt.Sprintf("f%03d", i); it.FileID != want {
			t.Fatalf("position %d holds %s, want %s (arrival order lost)", i, it.FileID, want)
		}
	}
}

func TestRandomCommandEmptyVault(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	sender := &recordingSender{}
	r := newTestRouter(st, sender, nil)

	r.Handle(context.Background(), &kit.Message{ChatID: 5, FromID: 7, Text: "/random"})

	if !sender.textContaining("No media available") {
		t.Fatalf("texts = %v", sender.texts)
	}
}

func TestRandomCommandSendsStoredItem(t *testing.T) {
	t.Parallel()
	st := newMemStore()
	st.singles["vid1"] = storage.SingleItem{
		Owner: "bot", Item: kit.MediaItem{Kind: kit.KindVideo, FileID: "vid1"},
	}
	sender := &recordingSender{}
	r := newTestRouter(st, sender, nil)

	r.Handle(context.Background(), &kit.Message{ChatID: 5, FromID: 7, Text: "/sj"})

	if sender.medias+sender.albums != 1 {
		t.Fatalf("sends = %d/%d, want exactly one", sender.medias, sender.albums)
	}
}

func TestIsRandomCommand(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"/random", "/sj", "/random@vault_bot", " /sj "} {
		if !isRandomCommand(ok) {
			t.Fatalf("%q should be recognized", ok)
		}
	}
	for _, no := range []string{"/start", "random", "/sjx", ""} {
		if isRandomCommand(no) {
			t.Fatalf("%q should not be recognized", no)
		}
	}
}
