package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests. Transactions are serialized and
// roll back every change when the function returns an error.
type MemoryStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data memoryData
}

type memoryData struct {
	users       map[string]User
	sources     map[string]Source
	sourceFiles map[string]SourceFile
	tracks      map[string]Track
	trackFiles  map[string]TrackFile
	images      map[string]Image
	imageFiles  map[string]ImageFile
	entities    map[AttachTarget]map[string]string
}

func newMemoryData() memoryData {
	return memoryData{
		users:       make(map[string]User),
		sources:     make(map[string]Source),
		sourceFiles: make(map[string]SourceFile),
		tracks:      make(map[string]Track),
		trackFiles:  make(map[string]TrackFile),
		images:      make(map[string]Image),
		imageFiles:  make(map[string]ImageFile),
		entities:    make(map[AttachTarget]map[string]string),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (d memoryData) clone() memoryData {
	c := memoryData{
		users:       copyMap(d.users),
		sources:     copyMap(d.sources),
		sourceFiles: copyMap(d.sourceFiles),
		tracks:      copyMap(d.tracks),
		trackFiles:  copyMap(d.trackFiles),
		images:      copyMap(d.images),
		imageFiles:  copyMap(d.imageFiles),
		entities:    make(map[AttachTarget]map[string]string, len(d.entities)),
	}
	for k, v := range d.entities {
		c.entities[k] = copyMap(v)
	}
	return c
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// AddUser inserts or replaces a user row.
func (s *MemoryStore) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[u.ID] = u
}

// AddEntity registers an album, artist or playlist owned by userID.
func (s *MemoryStore) AddEntity(t AttachTarget, id, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.entities[t] == nil {
		s.data.entities[t] = make(map[string]string)
	}
	s.data.entities[t][id] = userID
}

// PutSourceFile overwrites a source file row as-is.
func (s *MemoryStore) PutSourceFile(f SourceFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sourceFiles[f.ID] = f
}

// PutSource overwrites a source row as-is.
func (s *MemoryStore) PutSource(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.sources[src.ID] = src
}

func (s *MemoryStore) Tracks(userID string) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Track
	for _, t := range s.data.tracks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscNumber != out[j].DiscNumber {
			return out[i].DiscNumber < out[j].DiscNumber
		}
		return out[i].TrackNumber < out[j].TrackNumber
	})
	return out
}

func (s *MemoryStore) Images(userID string) []Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Image
	for _, img := range s.data.images {
		if img.UserID == userID {
			out = append(out, img)
		}
	}
	return out
}

func containsState(states []SourceState, s SourceState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.users[id]; !ok {
		return 0, nil
	}
	delete(s.data.users, id)
	for k, v := range s.data.sources {
		if v.UserID == id {
			delete(s.data.sources, k)
		}
	}
	for k, v := range s.data.sourceFiles {
		if v.UserID == id {
			delete(s.data.sourceFiles, k)
		}
	}
	for k, v := range s.data.tracks {
		if v.UserID == id {
			delete(s.data.tracks, k)
		}
	}
	for k, v := range s.data.trackFiles {
		if v.UserID == id {
			delete(s.data.trackFiles, k)
		}
	}
	for k, v := range s.data.images {
		if v.UserID == id {
			delete(s.data.images, k)
		}
	}
	for k, v := range s.data.imageFiles {
		if v.UserID == id {
			delete(s.data.imageFiles, k)
		}
	}
	for _, owned := range s.data.entities {
		for k, owner := range owned {
			if owner == id {
				delete(owned, k)
			}
		}
	}
	return 1, nil
}

func (s *MemoryStore) ListClosedUsers(ctx context.Context, arg ListClosedUsersParams) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []User
	for _, u := range s.data.users {
		if u.ClosedAt != nil && u.ClosedAt.Before(arg.ClosedBefore) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return limit(out, arg.Limit), nil
}

func limit[T any](items []T, n int32) []T {
	if n > 0 && len(items) > int(n) {
		return items[:n]
	}
	return items
}

func (s *MemoryStore) CreateSource(ctx context.Context, arg CreateSourceParams) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.sources[arg.ID]; ok {
		return Source{}, fmt.Errorf("source %s already exists", arg.ID)
	}
	src := Source{
		ID:         arg.ID,
		UserID:     arg.UserID,
		Type:       arg.Type,
		State:      SourceStateUploading,
		Region:     arg.Region,
		AttachType: arg.AttachType,
		AttachID:   arg.AttachID,
		CreatedAt:  arg.Now,
		UpdatedAt:  arg.Now,
	}
	s.data.sources[src.ID] = src
	return src, nil
}

func (s *MemoryStore) GetSource(ctx context.Context, arg GetSourceParams) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.data.sources[arg.ID]
	if !ok || src.UserID != arg.UserID {
		return Source{}, ErrNotFound
	}
	return src, nil
}

// LockSource is GetSource; ExecTx already serializes transactions.
func (s *MemoryStore) LockSource(ctx context.Context, arg GetSourceParams) (Source, error) {
	return s.GetSource(ctx, arg)
}

func (s *MemoryStore) UpdateSourceState(ctx context.Context, arg UpdateSourceStateParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.data.sources[arg.ID]
	if !ok || src.UserID != arg.UserID || !containsState(arg.From, src.State) {
		return 0, nil
	}
	src.State = arg.To
	src.UpdatedAt = arg.Now
	if arg.TranscodeStarted {
		src.TranscodeStartedAt = ptrTime(arg.Now)
	}
	if arg.TranscodeFinished {
		src.TranscodeFinishedAt = ptrTime(arg.Now)
	}
	s.data.sources[src.ID] = src
	return 1, nil
}

func (s *MemoryStore) CountPendingSources(ctx context.Context, arg CountPendingSourcesParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := []SourceState{SourceStateUploading, SourceStateUploaded, SourceStateTranscoding}
	var n int64
	for _, src := range s.data.sources {
		if src.UserID == arg.UserID && src.Type == arg.Type && containsState(pending, src.State) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListStaleTranscodingSources(ctx context.Context, arg ListStaleTranscodesParams) ([]Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Source
	for _, src := range s.data.sources {
		switch {
		case src.State == SourceStateUploaded && src.UpdatedAt.Before(arg.UploadedBefore):
			out = append(out, src)
		case src.State == SourceStateTranscoding && src.TranscodeStartedAt != nil &&
			src.TranscodeStartedAt.Before(arg.TranscodingBefore):
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return limit(out, arg.Limit), nil
}

func (s *MemoryStore) CreateSourceFile(ctx context.Context, arg CreateSourceFileParams) (SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.sourceFiles[arg.ID]; ok {
		return SourceFile{}, fmt.Errorf("source file %s already exists", arg.ID)
	}
	f := SourceFile{
		ID:        arg.ID,
		SourceID:  arg.SourceID,
		UserID:    arg.UserID,
		Type:      arg.Type,
		Region:    arg.Region,
		Filename:  arg.Filename,
		FileSize:  arg.FileSize,
		State:     SourceStateUploading,
		UploadID:  arg.UploadID,
		CreatedAt: arg.Now,
		UpdatedAt: arg.Now,
	}
	s.data.sourceFiles[f.ID] = f
	return f, nil
}

func (s *MemoryStore) GetSourceFile(ctx context.Context, arg GetSourceFileParams) (SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.data.sourceFiles[arg.ID]
	if !ok || f.SourceID != arg.SourceID || f.UserID != arg.UserID {
		return SourceFile{}, ErrNotFound
	}
	return f, nil
}

func sortFiles(files []SourceFile) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].CreatedAt.Before(files[j].CreatedAt)
		}
		return files[i].ID < files[j].ID
	})
}

func (s *MemoryStore) ListSourceFilesBySource(ctx context.Context, arg GetSourceParams) ([]SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SourceFile
	for _, f := range s.data.sourceFiles {
		if f.SourceID == arg.ID && f.UserID == arg.UserID {
			out = append(out, f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (s *MemoryStore) ListSourceFilesByUser(ctx context.Context, userID string) ([]SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SourceFile
	for _, f := range s.data.sourceFiles {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	sortFiles(out)
	return out, nil
}

func (s *MemoryStore) CountSourceFilesNotInState(ctx context.Context, arg CountSourceFilesNotInStateParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, f := range s.data.sourceFiles {
		if f.SourceID == arg.SourceID && f.UserID == arg.UserID && f.State != arg.State {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateSourceFileState(ctx context.Context, arg UpdateSourceFileStateParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.data.sourceFiles[arg.ID]
	if !ok || f.SourceID != arg.SourceID || f.UserID != arg.UserID || !containsState(arg.From, f.State) {
		return 0, nil
	}
	f.State = arg.To
	f.UpdatedAt = arg.Now
	if arg.Uploaded {
		f.UploadedAt = ptrTime(arg.Now)
		f.EntityExists = true
	}
	s.data.sourceFiles[f.ID] = f
	return 1, nil
}

func (s *MemoryStore) UpdateSourceFilesBySource(ctx context.Context, arg UpdateSourceFilesBySourceParams) ([]SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SourceFile
	for id, f := range s.data.sourceFiles {
		if f.SourceID != arg.SourceID || f.UserID != arg.UserID || !containsState(arg.From, f.State) {
			continue
		}
		f.State = arg.To
		f.UpdatedAt = arg.Now
		if arg.ClearEntityExists {
			f.EntityExists = false
		}
		s.data.sourceFiles[id] = f
		out = append(out, f)
	}
	sortFiles(out)
	return out, nil
}

func (s *MemoryStore) ClearSourceFileEntityExists(ctx context.Context, arg ClearEntityExistsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.data.sourceFiles[arg.ID]
	if !ok || f.UserID != arg.UserID || !f.EntityExists {
		return 0, nil
	}
	f.EntityExists = false
	f.UpdatedAt = arg.Now
	s.data.sourceFiles[f.ID] = f
	return 1, nil
}

func (s *MemoryStore) ListStaleUploadingSourceFiles(ctx context.Context, arg ListStaleUploadsParams) ([]SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SourceFile
	for _, f := range s.data.sourceFiles {
		if f.State == SourceStateUploading && f.CreatedAt.Before(arg.CreatedBefore) {
			out = append(out, f)
		}
	}
	sortFiles(out)
	return limit(out, arg.Limit), nil
}

func (s *MemoryStore) ListOverRetentionSourceFiles(ctx context.Context, arg ListOverRetentionParams) ([]SourceFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SourceFile
	for _, f := range s.data.sourceFiles {
		u, ok := s.data.users[f.UserID]
		if !ok || u.Plan != arg.Plan {
			continue
		}
		if f.EntityExists && f.UploadedAt != nil && f.UploadedAt.Before(arg.UploadedBefore) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(*out[j].UploadedAt) })
	return limit(out, arg.Limit), nil
}

func (s *MemoryStore) EntityOwnedByUser(ctx context.Context, arg EntityOwnedParams) (bool, error) {
	if !arg.Type.Valid() {
		return false, fmt.Errorf("unknown attach target %q", arg.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.data.entities[arg.Type][arg.ID]
	return ok && owner == arg.UserID, nil
}

func (s *MemoryStore) CountTracksByUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.data.tracks {
		if t.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertTrack(ctx context.Context, t Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.tracks[t.ID]; ok {
		return fmt.Errorf("track %s already exists", t.ID)
	}
	s.data.tracks[t.ID] = t
	return nil
}

func (s *MemoryStore) InsertTrackFile(ctx context.Context, f TrackFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.tracks[f.TrackID]; !ok {
		return fmt.Errorf("track %s does not exist", f.TrackID)
	}
	s.data.trackFiles[f.ID] = f
	return nil
}

func (s *MemoryStore) ListTrackFilesByUser(ctx context.Context, userID string) ([]TrackFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TrackFile
	for _, f := range s.data.trackFiles {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertImage(ctx context.Context, img Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.images[img.ID]; ok {
		return fmt.Errorf("image %s already exists", img.ID)
	}
	s.data.images[img.ID] = img
	return nil
}

func (s *MemoryStore) InsertImageFile(ctx context.Context, f ImageFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.images[f.ImageID]; !ok {
		return fmt.Errorf("image %s does not exist", f.ImageID)
	}
	s.data.imageFiles[f.ID] = f
	return nil
}

func (s *MemoryStore) ListImageFilesByUser(ctx context.Context, userID string) ([]ImageFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ImageFile
	for _, f := range s.data.imageFiles {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
