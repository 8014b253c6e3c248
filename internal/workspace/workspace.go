package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"excelanalyst/internal/models"
	"excelanalyst/internal/service/ai"
	"excelanalyst/internal/sheet"
)

// TableParser turns uploaded bytes into a table.
type TableParser interface {
	Parse(ctx context.Context, fileName string, data []byte) (*models.ParsedTable, error)
}

// TableCache stores parse results keyed by file content. Load returns
// (nil, nil) on a miss.
type TableCache interface {
	Load(ctx context.Context, fileName string, data []byte) (*models.ParsedTable, error)
	Store(ctx context.Context, fileName string, data []byte, table *models.ParsedTable) error
}

type Options struct {
	Parser      TableParser
	Initializer ai.Initializer
	// Cache is optional.
	Cache             TableCache
	Locale            string
	InitializeTimeout time.Duration
	SendTimeout       time.Duration
	Logger            *zap.Logger
	Now               func() time.Time
}

// Workspace holds the single conversation of the process. State, table,
// session, log and the pending flag change together under mu.
type Workspace struct {
	parser      TableParser
	initializer ai.Initializer
	cache       TableCache
	msgs        catalog
	initTimeout time.Duration
	sendTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu         sync.Mutex
	state      State
	fileName   string
	table      *models.ParsedTable
	session    ai.Session
	log        []models.ChatMessage
	pending    bool
	generation uint64
	notice     string
	cancelSend context.CancelFunc
}

// Snapshot is a copy of the public state for rendering.
type Snapshot struct {
	State       State                `json:"state"`
	Pending     bool                 `json:"pending"`
	FileName    string               `json:"file_name,omitempty"`
	Headers     []string             `json:"headers,omitempty"`
	RowCount    int                  `json:"row_count"`
	ContextRows int                  `json:"context_rows"`
	Messages    []models.ChatMessage `json:"messages"`
	Notice      string               `json:"notice,omitempty"`
	Generation  uint64               `json:"generation"`
}

func New(opts Options) *Workspace {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Workspace{
		parser:      opts.Parser,
		initializer: opts.Initializer,
		cache:       opts.Cache,
		msgs:        catalogFor(opts.Locale),
		initTimeout: opts.InitializeTimeout,
		sendTimeout: opts.SendTimeout,
		logger:      opts.Logger,
		now:         opts.Now,
		state:       Idle,
	}
}

// Upload runs the Idle -> ProcessingFile -> Ready pipeline. Any failure ends
// in Idle with a notice and nothing retained.
func (w *Workspace) Upload(ctx context.Context, fileName string, data []byte) error {
	w.mu.Lock()
	next, err := Transition(w.state, EventFileSelected)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.state = next
	w.fileName = fileName
	w.notice = ""
	w.generation++
	gen := w.generation
	w.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	table, session, err := w.process(ctx, fileName, data)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.generation != gen {
		closeSession(session)
		return ErrStaleReply
	}
	if err != nil {
		w.fail(err)
		w.logger.Warn("upload failed", zap.String("file", fileName), zap.Error(err))
		return err
	}

	w.state, _ = Transition(w.state, EventProcessingSucceeded)
	w.table = table
	w.session = session
	w.log = []models.ChatMessage{w.newMessage(models.RoleAssistant, w.msgs.welcomeText(fileName, table.RowCount(), table.Headers), nil)}
	w.logger.Info("dataset ready",
		zap.String("file", fileName),
		zap.Int("rows", table.RowCount()),
		zap.Int("columns", len(table.Headers)))
	return nil
}

func (w *Workspace) process(ctx context.Context, fileName string, data []byte) (*models.ParsedTable, ai.Session, error) {
	table, err := w.loadTable(ctx, fileName, data)
	if err != nil {
		return nil, nil, err
	}

	ds := ai.Dataset{
		FileName: fileName,
		Context:  sheet.FormatForModel(table),
		Table:    table,
	}
	initCtx, cancel := withTimeout(ctx, w.initTimeout)
	defer cancel()
	session, err := w.initializer.Initialize(initCtx, ds)
	if err != nil {
		var initErr *ai.InitError
		if !errors.As(err, &initErr) {
			err = &ai.InitError{Provider: "unknown", Err: err}
		}
		return nil, nil, err
	}
	return table, session, nil
}

func (w *Workspace) loadTable(ctx context.Context, fileName string, data []byte) (*models.ParsedTable, error) {
	if w.cache != nil {
		table, err := w.cache.Load(ctx, fileName, data)
		if err != nil {
			w.logger.Warn("table cache load failed", zap.Error(err))
		} else if table != nil {
			w.logger.Debug("table cache hit", zap.String("file", fileName))
			return table, nil
		}
	}
	table, err := w.parser.Parse(ctx, fileName, data)
	if err != nil {
		return nil, err
	}
	if w.cache != nil {
		if err := w.cache.Store(ctx, fileName, data, table); err != nil {
			w.logger.Warn("table cache store failed", zap.Error(err))
		}
	}
	return table, nil
}

// fail walks ProcessingFile -> Error -> Idle. Callers hold mu.
func (w *Workspace) fail(err error) {
	w.state, _ = Transition(w.state, EventProcessingFailed)
	w.notice = w.msgs.uploadNotice(err)
	w.state, _ = Transition(w.state, EventRecovered)
	w.fileName = ""
	w.table = nil
	w.session = nil
	w.log = nil
	w.pending = false
}

// Send runs one turn. The user message is appended before the remote call;
// the reply is appended only if no reset happened meanwhile.
func (w *Workspace) Send(ctx context.Context, text string) (models.ChatMessage, *models.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ChatMessage{}, nil, ErrEmptyMessage
	}

	w.mu.Lock()
	if w.state != Ready {
		w.mu.Unlock()
		return models.ChatMessage{}, nil, ErrNotReady
	}
	if w.pending {
		w.mu.Unlock()
		return models.ChatMessage{}, nil, ErrTurnPending
	}
	userMsg := w.newMessage(models.RoleUser, text, nil)
	w.log = append(w.log, userMsg)
	w.pending = true
	w.notice = ""
	gen := w.generation
	session := w.session
	sendCtx, cancel := withTimeout(context.WithoutCancel(ctx), w.sendTimeout)
	w.cancelSend = cancel
	w.mu.Unlock()

	reply, err := session.Send(sendCtx, text)
	cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.generation != gen {
		w.logger.Info("discarding reply of reset conversation", zap.Uint64("generation", gen))
		return userMsg, nil, ErrStaleReply
	}
	w.pending = false
	w.cancelSend = nil
	if err != nil {
		w.notice = w.msgs.sendNotice(err)
		w.logger.Error("send failed", zap.Error(err))
		return userMsg, nil, fmt.Errorf("send turn: %w", err)
	}

	assistantMsg := w.newMessage(models.RoleAssistant, reply.Text, reply.Images)
	w.log = append(w.log, assistantMsg)
	return userMsg, &assistantMsg, nil
}

// Reset returns a Ready workspace to Idle. An in-flight turn is cancelled
// and its reply will be discarded.
func (w *Workspace) Reset() error {
	w.mu.Lock()
	next, err := Transition(w.state, EventReset)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	session := w.session
	if w.cancelSend != nil {
		w.cancelSend()
		w.cancelSend = nil
	}
	w.state = next
	w.generation++
	w.fileName = ""
	w.table = nil
	w.session = nil
	w.log = nil
	w.pending = false
	w.notice = ""
	w.mu.Unlock()

	closeSession(session)
	w.logger.Info("workspace reset")
	return nil
}

func (w *Workspace) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := Snapshot{
		State:      w.state,
		Pending:    w.pending,
		FileName:   w.fileName,
		Messages:   append([]models.ChatMessage{}, w.log...),
		Notice:     w.notice,
		Generation: w.generation,
	}
	if w.table != nil {
		snap.Headers = append([]string(nil), w.table.Headers...)
		snap.RowCount = w.table.RowCount()
		snap.ContextRows = sheet.ContextRowCount(w.table)
	}
	return snap
}

// Table returns the loaded table, or nil outside Ready. The table is
// immutable and may be read without further locking.
func (w *Workspace) Table() *models.ParsedTable {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.table
}

// Message looks up a logged message by id.
func (w *Workspace) Message(id string) (models.ChatMessage, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, m := range w.log {
		if m.ID == id {
			return m, true
		}
	}
	return models.ChatMessage{}, false
}

func (w *Workspace) newMessage(role models.Role, content string, images []models.Image) models.ChatMessage {
	return models.ChatMessage{
		ID:        newID(),
		Role:      role,
		Content:   content,
		Timestamp: w.now(),
		Images:    images,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func closeSession(s ai.Session) {
	if s != nil {
		_ = s.Close()
	}
}
