package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/specforge/specforge"
)

// FileSpecStore is a SpecStore backed by JSON files on disk, one directory
// per project:
//
//	<root>/<project_id>/current.json
//	<root>/<project_id>/features.json
//	<root>/<project_id>/versions/<n>.json
//
// It exists for local development and tests; deployments use the PostgreSQL
// store. All methods are safe for concurrent use within one process.
type FileSpecStore struct {
	mu      sync.RWMutex
	root    string
	nowFunc func() time.Time
}

type versionFile struct {
	Summary   string          `json:"summary"`
	CreatedAt int64           `json:"created_at"`
	Document  *specforge.Spec `json:"document"`
}

// NewFileSpecStore creates a file-backed spec store rooted at dir.
func NewFileSpecStore(dir string) (*FileSpecStore, error) {
	if dir == "" {
		return nil, specforge.NewForgeError(specforge.ErrorTypeValidation,
			specforge.ErrCodeInvalidConfig, "spec store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageError("create spec store directory", err)
	}
	return &FileSpecStore{root: dir, nowFunc: time.Now}, nil
}

func (s *FileSpecStore) projectDir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// CreateSpec stores the initial extracted spec as version 1.
func (s *FileSpecStore) CreateSpec(_ context.Context, spec *specforge.Spec) error {
	if spec == nil || spec.ProjectID == "" {
		return specforge.NewInvalidDocumentError("spec with project id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.projectDir(spec.ProjectID)
	if _, err := os.Stat(filepath.Join(dir, "current.json")); err == nil {
		return specforge.NewForgeError(specforge.ErrorTypeConflict,
			specforge.ErrCodeSpecExists, "project already has a spec").WithProject(spec.ProjectID)
	}
	working, err := spec.Clone()
	if err != nil {
		return specforge.NewInvalidDocumentError("spec is not serializable").WithCause(err)
	}
	working.Version = 1
	if err := os.MkdirAll(filepath.Join(dir, "versions"), 0o755); err != nil {
		return storageError("create project directory", err).WithProject(spec.ProjectID)
	}
	if err := s.writeCurrent(dir, working); err != nil {
		return err
	}
	return s.writeVersion(dir, working, "initial extraction")
}

// CurrentSpec loads the latest persisted spec.
func (s *FileSpecStore) CurrentSpec(_ context.Context, projectID string) (*specforge.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readCurrent(projectID)
}

// PersistVersion replaces the current spec and writes a new snapshot. The
// store-wide mutex makes the bump-and-write atomic within the process; the
// file store offers no cross-process guarantee.
func (s *FileSpecStore) PersistVersion(_ context.Context, projectID string, proposed *specforge.Spec, summary, featureID string) (int, error) {
	if proposed == nil {
		return 0, specforge.NewInvalidDocumentError("proposed spec is required").WithProject(projectID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readCurrent(projectID)
	if err != nil {
		return 0, err
	}
	working, err := proposed.Clone()
	if err != nil {
		return 0, specforge.NewInvalidDocumentError("proposed spec is not serializable").WithCause(err)
	}
	working.ProjectID = projectID
	working.Version = current.Version + 1

	dir := s.projectDir(projectID)
	if featureID != "" {
		if err := s.advanceFeature(dir, projectID, featureID); err != nil {
			return 0, err
		}
	}
	if err := s.writeCurrent(dir, working); err != nil {
		return 0, err
	}
	if err := s.writeVersion(dir, working, summary); err != nil {
		return 0, err
	}
	return working.Version, nil
}

// GetVersion loads one snapshot including its document.
func (s *FileSpecStore) GetVersion(_ context.Context, projectID string, version int) (*specforge.SpecVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.projectDir(projectID), "versions", fmt.Sprintf("%d.json", version))
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, specforge.NewVersionNotFoundError(projectID, version)
		}
		return nil, storageError("read version file", err).WithProject(projectID)
	}
	var vf versionFile
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, storageError("decode version file", err).WithProject(projectID)
	}
	return &specforge.SpecVersion{
		ProjectID: projectID,
		Version:   version,
		Summary:   vf.Summary,
		Document:  vf.Document,
		CreatedAt: vf.CreatedAt,
	}, nil
}

// ListVersions lists snapshots newest first, documents omitted.
func (s *FileSpecStore) ListVersions(_ context.Context, projectID string) ([]specforge.SpecVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.projectDir(projectID), "versions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, specforge.NewSpecNotFoundError(projectID)
		}
		return nil, storageError("list version files", err).WithProject(projectID)
	}

	versions := []specforge.SpecVersion{}
	for _, entry := range entries {
		var n int
		if _, err := fmt.Sscanf(entry.Name(), "%d.json", &n); err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, storageError("read version file", err).WithProject(projectID)
		}
		var vf versionFile
		if err := json.Unmarshal(raw, &vf); err != nil {
			return nil, storageError("decode version file", err).WithProject(projectID)
		}
		versions = append(versions, specforge.SpecVersion{
			ProjectID: projectID,
			Version:   n,
			Summary:   vf.Summary,
			CreatedAt: vf.CreatedAt,
		})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version > versions[j].Version })
	return versions, nil
}

// PutFeature stores or replaces a feature record for a project.
func (s *FileSpecStore) PutFeature(_ context.Context, feature *specforge.Feature) error {
	if feature == nil || feature.ID == "" || feature.ProjectID == "" {
		return specforge.NewInvalidDocumentError("feature with id and project id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.projectDir(feature.ProjectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageError("create project directory", err).WithProject(feature.ProjectID)
	}
	features, err := s.readFeatures(dir)
	if err != nil {
		return err
	}
	features[feature.ID] = *feature
	return s.writeFeatures(dir, features)
}

func (s *FileSpecStore) advanceFeature(dir, projectID, featureID string) error {
	features, err := s.readFeatures(dir)
	if err != nil {
		return err
	}
	feature, ok := features[featureID]
	if !ok {
		return specforge.NewFeatureNotFoundError(projectID, featureID)
	}
	feature.Status = specforge.FeatureStatusApplied
	features[featureID] = feature
	return s.writeFeatures(dir, features)
}

func (s *FileSpecStore) readFeatures(dir string) (map[string]specforge.Feature, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "features.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]specforge.Feature{}, nil
		}
		return nil, storageError("read features file", err)
	}
	features := map[string]specforge.Feature{}
	if err := json.Unmarshal(raw, &features); err != nil {
		return nil, storageError("decode features file", err)
	}
	return features, nil
}

func (s *FileSpecStore) writeFeatures(dir string, features map[string]specforge.Feature) error {
	raw, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return storageError("encode features file", err)
	}
	return s.writeFile(filepath.Join(dir, "features.json"), raw)
}

func (s *FileSpecStore) readCurrent(projectID string) (*specforge.Spec, error) {
	raw, err := os.ReadFile(filepath.Join(s.projectDir(projectID), "current.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, specforge.NewSpecNotFoundError(projectID)
		}
		return nil, storageError("read current spec", err).WithProject(projectID)
	}
	var spec specforge.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, storageError("decode current spec", err).WithProject(projectID)
	}
	return &spec, nil
}

func (s *FileSpecStore) writeCurrent(dir string, spec *specforge.Spec) error {
	raw, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return specforge.NewInvalidDocumentError("spec is not serializable").WithCause(err)
	}
	return s.writeFile(filepath.Join(dir, "current.json"), raw)
}

func (s *FileSpecStore) writeVersion(dir string, spec *specforge.Spec, summary string) error {
	vf := versionFile{Summary: summary, CreatedAt: s.nowFunc().UnixMilli(), Document: spec}
	raw, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return specforge.NewInvalidDocumentError("version is not serializable").WithCause(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "versions"), 0o755); err != nil {
		return storageError("create versions directory", err)
	}
	return s.writeFile(filepath.Join(dir, "versions", fmt.Sprintf("%d.json", spec.Version)), raw)
}

// writeFile writes through a temp file and rename so a crash never leaves a
// half-written document behind.
func (s *FileSpecStore) writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return storageError("write spec file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return storageError("replace spec file", err)
	}
	return nil
}
