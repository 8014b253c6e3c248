package workspace

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"excelanalyst/internal/models"
	"excelanalyst/internal/service/ai"
	"excelanalyst/internal/sheet"
)

const citiesCSV = "City,Revenue\nA,100\nB,250\n"

type fakeSession struct {
	mu      sync.Mutex
	texts   []string
	reply   *ai.Reply
	err     error
	block   chan struct{}
	closed  atomic.Bool
	calls   atomic.Int32
	started chan struct{}
}

func (s *fakeSession) Send(ctx context.Context, text string) (*ai.Reply, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &ai.SendError{Reason: ai.ReasonTimeout, Err: ctx.Err()}
			}
			return nil, &ai.SendError{Reason: ai.ReasonStale, Err: ctx.Err()}
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.reply, nil
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeInitializer struct {
	session *fakeSession
	err     error
	calls   int
	last    ai.Dataset
}

func (f *fakeInitializer) Initialize(_ context.Context, ds ai.Dataset) (ai.Session, error) {
	f.calls++
	f.last = ds
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func newTestWorkspace(initer ai.Initializer, mutate ...func(*Options)) *Workspace {
	opts := Options{
		Parser:      sheet.NewParser(0, nil),
		Initializer: initer,
		Locale:      "tr",
		Logger:      zap.NewNop(),
		Now:         func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) },
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts)
}

func TestUploadAndTurn(t *testing.T) {
	sess := &fakeSession{reply: &ai.Reply{
		Text:   "En yüksek ciro **B** ilinde.",
		Images: []models.Image{{MIMEType: "image/png", Data: "iVBORw0KGgo="}},
	}}
	initer := &fakeInitializer{session: sess}
	ws := newTestWorkspace(initer)

	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))

	snap := ws.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, "cities.csv", snap.FileName)
	assert.Equal(t, 2, snap.RowCount)
	assert.Equal(t, []string{"City", "Revenue"}, snap.Headers)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, models.RoleAssistant, snap.Messages[0].Role)
	assert.Contains(t, snap.Messages[0].Content, "cities.csv")
	assert.Equal(t, sheet.FormatForModel(ws.Table()), initer.last.Context)

	user, assistant, err := ws.Send(context.Background(), "  En yüksek ciroya sahip ili göster ")
	require.NoError(t, err)
	assert.Equal(t, "En yüksek ciroya sahip ili göster", user.Content)
	assert.Equal(t, []string{"En yüksek ciroya sahip ili göster"}, sess.texts)
	require.NotNil(t, assistant)

	snap = ws.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.False(t, snap.Pending)
	assert.Equal(t, models.RoleUser, snap.Messages[1].Role)
	assert.Equal(t, models.RoleAssistant, snap.Messages[2].Role)
	assert.Len(t, snap.Messages[2].Images, 1)
	assert.NotEqual(t, snap.Messages[1].ID, snap.Messages[2].ID)

	got, ok := ws.Message(assistant.ID)
	require.True(t, ok)
	assert.Equal(t, assistant.Content, got.Content)
}

func TestUploadEmptySheetReturnsToIdle(t *testing.T) {
	initer := &fakeInitializer{session: &fakeSession{}}
	ws := newTestWorkspace(initer)

	err := ws.Upload(context.Background(), "empty.csv", []byte("City,Revenue\n"))
	assert.ErrorIs(t, err, sheet.ErrEmptySheet)

	snap := ws.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.NotEmpty(t, snap.Notice)
	assert.Equal(t, catalogs["tr"].emptySheet, snap.Notice)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.FileName)
	assert.Nil(t, ws.Table())
	assert.Zero(t, initer.calls)
}

func TestUploadInitFailure(t *testing.T) {
	initer := &fakeInitializer{err: errors.New("quota exceeded")}
	ws := newTestWorkspace(initer, func(o *Options) { o.Locale = "en" })

	err := ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV))
	var initErr *ai.InitError
	require.ErrorAs(t, err, &initErr)

	snap := ws.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, catalogs["en"].sessionFailed, snap.Notice)
	assert.Empty(t, snap.Messages)
	assert.Nil(t, ws.Table())

	// recovered: a new upload is accepted
	initer.err = nil
	initer.session = &fakeSession{reply: &ai.Reply{Text: "ok"}}
	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))
	assert.Empty(t, ws.Snapshot().Notice)
}

func TestUploadRejectedWhenNotIdle(t *testing.T) {
	ws := newTestWorkspace(&fakeInitializer{session: &fakeSession{}})
	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))

	err := ws.Upload(context.Background(), "other.csv", []byte(citiesCSV))
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "cities.csv", ws.Snapshot().FileName)
}

func TestResetClearsEverything(t *testing.T) {
	sess := &fakeSession{reply: &ai.Reply{Text: "ok"}}
	ws := newTestWorkspace(&fakeInitializer{session: sess})
	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))
	_, _, err := ws.Send(context.Background(), "hi")
	require.NoError(t, err)
	before := ws.Snapshot().Generation

	require.NoError(t, ws.Reset())

	snap := ws.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Messages)
	assert.Zero(t, snap.RowCount)
	assert.Greater(t, snap.Generation, before)
	assert.Nil(t, ws.Table())
	assert.True(t, sess.closed.Load())

	assert.ErrorIs(t, ws.Reset(), ErrInvalidTransition)
	_, _, err = ws.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSendEmptyMessage(t *testing.T) {
	sess := &fakeSession{reply: &ai.Reply{Text: "ok"}}
	ws := newTestWorkspace(&fakeInitializer{session: sess})
	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))

	for _, text := range []string{"", "   ", "\n\t"} {
		_, _, err := ws.Send(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Len(t, ws.Snapshot().Messages, 1)
	assert.Zero(t, sess.calls.Load())
}

func TestSendFailureKeepsHistory(t *testing.T) {
	sess := &fakeSession{err: &ai.SendError{Reason: ai.ReasonRemote, Err: errors.New("503")}}
	ws := newTestWorkspace(&fakeInitializer{session: sess})
	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))

	user, assistant, err := ws.Send(context.Background(), "soru")
	var se *ai.SendError
	require.ErrorAs(t, err, &se)
	assert.Nil(t, assistant)

	snap := ws.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.False(t, snap.Pending)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, user.ID, snap.Messages[1].ID)
	assert.Equal(t, catalogs["tr"].sendFailed, snap.Notice)

	// retry by resubmitting
	sess.err = nil
	sess.reply = &ai.Reply{Text: "cevap"}
	_, assistant, err = ws.Send(context.Background(), "soru")
	require.NoError(t, err)
	require.NotNil(t, assistant)
	assert.Len(t, ws.Snapshot().Messages, 4)
	assert.Empty(t, ws.Snapshot().Notice)
}

func TestSendTimeout(t *testing.T) {
	sess := &fakeSession{block: make(chan struct{})}
	ws := newTestWorkspace(&fakeInitializer{session: sess}, func(o *Options) { o.SendTimeout = 20 * time.Millisecond })
	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))

	_, _, err := ws.Send(context.Background(), "yavaş soru")
	assert.True(t, ai.IsTimeout(err))
	snap := ws.Snapshot()
	assert.False(t, snap.Pending)
	assert.Equal(t, catalogs["tr"].sendTimeout, snap.Notice)
}

func TestPendingTurnAndStaleReply(t *testing.T) {
	sess := &fakeSession{
		reply:   &ai.Reply{Text: "late"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	ws := newTestWorkspace(&fakeInitializer{session: sess})
	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))

	done := make(chan error, 1)
	go func() {
		_, _, err := ws.Send(context.Background(), "first")
		done <- err
	}()
	<-sess.started

	assert.True(t, ws.Snapshot().Pending)
	_, _, err := ws.Send(context.Background(), "second")
	assert.ErrorIs(t, err, ErrTurnPending)

	require.NoError(t, ws.Reset())
	close(sess.block)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStaleReply)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not return")
	}

	snap := ws.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.Pending)
	assert.Equal(t, int32(1), sess.calls.Load())
}

type memCache struct {
	tables map[string]*models.ParsedTable
	loads  int
}

func (c *memCache) Load(_ context.Context, fileName string, data []byte) (*models.ParsedTable, error) {
	c.loads++
	return c.tables[fileName+string(data)], nil
}

func (c *memCache) Store(_ context.Context, fileName string, data []byte, table *models.ParsedTable) error {
	c.tables[fileName+string(data)] = table
	return nil
}

type failingParser struct{}

func (failingParser) Parse(context.Context, string, []byte) (*models.ParsedTable, error) {
	return nil, errors.New("parser should not be called")
}

func TestUploadUsesCache(t *testing.T) {
	cache := &memCache{tables: map[string]*models.ParsedTable{}}
	initer := &fakeInitializer{session: &fakeSession{}}
	ws := newTestWorkspace(initer, func(o *Options) { o.Cache = cache })
	require.NoError(t, ws.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))
	require.Len(t, cache.tables, 1)
	require.NoError(t, ws.Reset())

	cached := newTestWorkspace(initer, func(o *Options) {
		o.Cache = cache
		o.Parser = failingParser{}
	})
	require.NoError(t, cached.Upload(context.Background(), "cities.csv", []byte(citiesCSV)))
	assert.Equal(t, 2, cached.Snapshot().RowCount)
	assert.Equal(t, 2, cache.loads)
}

func TestUploadNotices(t *testing.T) {
	ws := newTestWorkspace(&fakeInitializer{session: &fakeSession{}}, func(o *Options) { o.Locale = "en" })
	cases := map[string]string{
		"notes.txt":   catalogs["en"].unsupported,
		"broken.xlsx": catalogs["en"].unreadable,
	}
	for name, want := range cases {
		require.Error(t, ws.Upload(context.Background(), name, []byte("junk")))
		assert.Equal(t, want, ws.Snapshot().Notice, name)
	}
	assert.Equal(t, catalogs["en"].failed, catalogs["en"].uploadNotice(errors.New("other")))
}

func TestWelcomeMentionsTruncation(t *testing.T) {
	c := catalogFor("EN")
	assert.NotContains(t, c.welcomeText("f.csv", 10, []string{"a"}), "first")
	assert.Contains(t, c.welcomeText("f.csv", sheet.MaxContextRows+1, []string{"a"}), "first 1500 rows")
	assert.Equal(t, catalogs["tr"], catalogFor("de"))
}
