package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hamed0406/healthwatch/internal/domain"
	"github.com/hamed0406/healthwatch/internal/health"
)

const SharedStateFile = "shared-state.json"

// SharedMonitoringState is the leader's published snapshot. Channel states
// carry only their newest samples.
type SharedMonitoringState struct {
	InstanceID    string                                   `json:"instanceId"`
	PublishedAt   time.Time                                `json:"publishedAt"`
	ChannelStates map[domain.ChannelID]domain.ChannelState `json:"channelStates"`
	Outages       []domain.Outage                          `json:"outages,omitempty"`
	ActiveWatch   *domain.WatchSession                     `json:"activeWatch,omitempty"`
}

func (s SharedMonitoringState) Replica() health.Replica {
	return health.Replica{States: s.ChannelStates, Outages: s.Outages, Watch: s.ActiveWatch}
}

// StateStore persists the shared state and notifies on change.
type StateStore interface {
	Write(ctx context.Context, st SharedMonitoringState) error
	// Read returns found=false when nothing was published yet.
	Read(ctx context.Context) (SharedMonitoringState, bool, error)
	// Watch delivers a coalesced signal after every write by any process.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

type FileStateStore struct {
	dir  string
	path string
	log  *zap.Logger
}

var _ StateStore = (*FileStateStore)(nil)

func NewFileStateStore(dir string, log *zap.Logger) (*FileStateStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("shared state dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStateStore{dir: dir, path: filepath.Join(dir, SharedStateFile), log: log}, nil
}

func (s *FileStateStore) Write(_ context.Context, st SharedMonitoringState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode shared state: %w", err)
	}
	if err := writeFileAtomic(s.path, b); err != nil {
		return fmt.Errorf("write shared state: %w", err)
	}
	return nil
}

func (s *FileStateStore) Read(_ context.Context) (SharedMonitoringState, bool, error) {
	var st SharedMonitoringState
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("read shared state: %w", err)
	}
	if err := json.Unmarshal(b, &st); err != nil {
		return st, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if st.InstanceID == "" {
		return st, false, fmt.Errorf("%w: missing instance id", ErrCorruptState)
	}
	return st, true, nil
}

// Watch watches the directory rather than the file: the file is replaced by
// rename on every write.
func (s *FileStateStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", s.dir, err)
	}
	out := make(chan struct{}, 1)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != SharedStateFile {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("shared_state_watch_error", zap.Error(err))
			}
		}
	}()
	return out, nil
}
