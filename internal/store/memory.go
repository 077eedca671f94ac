package store

import (
	"context"
	"sort"
	"sync"

	"github.com/andresmejia3/facesift/internal/types"
)

// Memory is an in-process Store. IDs are assigned in ascending order.
type Memory struct {
	mu sync.Mutex

	files   map[int64]*memFile
	byPath  map[string]int64
	faces   map[int64]*types.PersistedFace
	persons map[int64]*types.Person

	nextFile, nextFace, nextPerson int64
}

type memFile struct {
	types.ImageFile
	fingerprint string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	m := &Memory{}
	m.clear()
	return m
}

func (m *Memory) clear() {
	m.files = make(map[int64]*memFile)
	m.byPath = make(map[string]int64)
	m.faces = make(map[int64]*types.PersistedFace)
	m.persons = make(map[int64]*types.Person)
}

func (m *Memory) Close(ctx context.Context) {}

func (m *Memory) RegisterFile(ctx context.Context, path, fingerprint string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byPath[path]; ok {
		f := m.files[id]
		if f.fingerprint != fingerprint {
			for faceID, face := range m.faces {
				if face.FileID == id {
					delete(m.faces, faceID)
				}
			}
			f.fingerprint = fingerprint
			f.Status = ""
		}
		return id, nil
	}

	m.nextFile++
	id := m.nextFile
	m.files[id] = &memFile{ImageFile: types.ImageFile{ID: id, Path: path}, fingerprint: fingerprint}
	m.byPath[path] = id
	return id, nil
}

func (m *Memory) GetFile(ctx context.Context, id int64) (types.ImageFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return types.ImageFile{}, ErrNotFound
	}
	return f.ImageFile, nil
}

func (m *Memory) GetUnprocessedImageFiles(ctx context.Context) ([]types.ImageFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var files []types.ImageFile
	for _, f := range m.files {
		if f.Status == "" {
			files = append(files, f.ImageFile)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func (m *Memory) GetStats(ctx context.Context) (types.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := types.Stats{FaceCount: len(m.faces)}
	for _, f := range m.files {
		if f.Status != "" {
			st.ProcessedCount++
		}
	}
	return st, nil
}

func (m *Memory) MarkScanned(ctx context.Context, fileID int64, status types.ScanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok {
		return ErrNotFound
	}
	f.Status = status
	return nil
}

func (m *Memory) SaveScan(ctx context.Context, fileID int64, status types.ScanStatus, faces []NewFace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[fileID]
	if !ok {
		return ErrNotFound
	}
	for id, face := range m.faces {
		if face.FileID == fileID {
			delete(m.faces, id)
		}
	}
	for _, nf := range faces {
		m.addFaceLocked(fileID, nf.BBoxJSON, nf.Embedding)
	}
	f.Status = status
	return nil
}

func (m *Memory) AddFace(ctx context.Context, fileID int64, bboxJSON string, embedding []float32) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[fileID]; !ok {
		return 0, ErrNotFound
	}
	return m.addFaceLocked(fileID, bboxJSON, embedding), nil
}

func (m *Memory) addFaceLocked(fileID int64, bboxJSON string, embedding []float32) int64 {
	m.nextFace++
	id := m.nextFace
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	m.faces[id] = &types.PersistedFace{ID: id, FileID: fileID, BBoxJSON: bboxJSON, Embedding: vec}
	return id
}

func (m *Memory) GetAllFaces(ctx context.Context) ([]types.PersistedFace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	faces := make([]types.PersistedFace, 0, len(m.faces))
	for _, f := range m.faces {
		c := *f
		if f.PersonID != nil {
			pid := *f.PersonID
			c.PersonID = &pid
		}
		faces = append(faces, c)
	}
	sort.Slice(faces, func(i, j int) bool { return faces[i].ID < faces[j].ID })
	return faces, nil
}

func (m *Memory) ResetAllAssignments(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.faces {
		f.PersonID = nil
	}
	m.persons = make(map[int64]*types.Person)
	return nil
}

func (m *Memory) CreatePerson(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPerson++
	id := m.nextPerson
	m.persons[id] = &types.Person{ID: id, Name: name}
	return id, nil
}

func (m *Memory) AssignToPerson(ctx context.Context, faceID, personID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.faces[faceID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m.persons[personID]; !ok {
		return ErrNotFound
	}
	f.PersonID = &personID
	return nil
}

func (m *Memory) ListPersons(ctx context.Context) ([]types.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[int64]int)
	for _, f := range m.faces {
		if f.PersonID != nil {
			counts[*f.PersonID]++
		}
	}

	persons := make([]types.Person, 0, len(m.persons))
	for _, p := range m.persons {
		c := *p
		c.FaceCount = counts[p.ID]
		persons = append(persons, c)
	}
	sort.Slice(persons, func(i, j int) bool { return persons[i].ID < persons[j].ID })
	return persons, nil
}

func (m *Memory) RenamePerson(ctx context.Context, id int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.persons[id]
	if !ok {
		return ErrNotFound
	}
	p.Name = name
	return nil
}

func (m *Memory) CountPersons(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.persons), nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clear()
	return nil
}
