/*
 *	Copyright 2025 The gograd Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package checkpoints saves and restores the variable state of a session.
//
// The main object is the Handler, created by calling Build, followed by the
// configuration options and finally Done. If the configured directory already
// holds checkpoints, Done restores the newest one into the session. As
// training progresses, call Handler.Save at any time to write a new
// checkpoint; older ones are pruned down to the configured Keep count.
//
//	handler, err := checkpoints.Build(sess).Dir(*flagCheckpoint).Keep(3).Done()
//	...
//	for step := handler.GlobalStep() + 1; step <= numSteps; step++ {
//		// ... run the training step ...
//		if step%100 == 0 {
//			if err := handler.Save(step); err != nil { ... }
//		}
//	}
//
// A checkpoint is a pair of files sharing a base name: a JSON manifest (the
// step plus each variable's name, dimensions and dtype) and a gob payload
// holding the tensor values in manifest order. Both are written to temporary
// files and renamed into place, the manifest last: a checkpoint exists
// exactly once its .json file is in place.
package checkpoints

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gograd/gograd/session"
	"github.com/gograd/gograd/types/shapes"
	"github.com/gograd/gograd/types/tensors"
	"github.com/gograd/gograd/types/xslices"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

const (
	baseNamePrefix = "checkpoint-"
	metadataSuffix = ".json"
	payloadSuffix  = ".bin"
)

// Config for the checkpoints Handler to be created. This is created with
// Build and configured with the various methods. Once finished, call Done and
// it will output a checkpoints.Handler that restores (if there is a
// previously saved checkpoint) and saves checkpoints.
type Config struct {
	sess *session.Session
	err  error

	dir             string
	keep            int
	excludeFromSave map[string]bool
}

// Build a configuration for a checkpoints.Handler attached to the given
// session. After configuring the returned Config, call Done to get the
// Handler.
func Build(sess *session.Session) *Config {
	return &Config{
		sess:            sess,
		keep:            1,
		excludeFromSave: make(map[string]bool),
	}
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Dir sets the directory where checkpoints are saved and restored from,
// creating it if needed. A leading "~" expands to the user's home directory.
//
// One of Dir, DirFromBase or TempDir must be set before calling Done.
func (c *Config) Dir(dir string) *Config {
	c.dir = replaceTildeInDir(dir)
	fi, err := os.Stat(c.dir)
	if err != nil && !os.IsNotExist(err) {
		c.setError(errors.Wrapf(err, "failed to os.Stat(%q)", dir))
		return c
	}
	if err == nil && !fi.IsDir() {
		c.setError(errors.Errorf("%q exists but is a normal file, not a directory", dir))
		return c
	}
	if err == nil {
		return c
	}
	if err := os.MkdirAll(c.dir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "trying to create dir %q", c.dir))
	}
	return c
}

// DirFromBase sets the directory where checkpoints are saved and restored
// from. If dir is not an absolute path, it is taken as a subdirectory of
// baseDir.
func (c *Config) DirFromBase(dir, baseDir string) *Config {
	dir = replaceTildeInDir(dir)
	if !path.IsAbs(dir) {
		dir = path.Join(replaceTildeInDir(baseDir), dir)
	}
	return c.Dir(dir)
}

// TempDir creates a temporary directory under dir with the given name
// pattern and uses it for checkpoints. It is a convenience wrapper around
// os.MkdirTemp: with an empty dir the system default temporary directory is
// used, and a "*" in pattern is replaced by a random string.
func (c *Config) TempDir(dir, pattern string) *Config {
	newDir, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		c.setError(errors.Wrapf(err, "failed to create os.MkdirTemp(%q, %q)", dir, pattern))
		return c
	}
	c.dir = newDir
	if err := os.Chmod(c.dir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "failed to os.Chmod(%q, %s)", newDir, DirPermMode))
	}
	return c
}

// Keep configures the number of checkpoints to keep. If set to -1, older
// checkpoints are never erased. The default is 1.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// ExcludeFromSave enumerates variables, by name, to leave out of saved
// checkpoints. It can be called multiple times, adding to the exclusions.
func (c *Config) ExcludeFromSave(names ...string) *Config {
	for _, name := range names {
		c.excludeFromSave[name] = true
	}
	return c
}

// Done creates a Handler with the current configuration. If the directory
// already holds checkpoints, the newest one is restored into the session
// before Done returns.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" {
		return nil, errors.Errorf("directory for checkpoints not configured or empty")
	}
	h := &Handler{config: c, sess: c.sess}
	list, err := h.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	h.count = maxCheckpointCount(list) + 1
	if len(list) > 0 {
		if err := h.RestoreCheckpoint(xslices.Last(list)); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// MustDone constructs the checkpoints.Handler. It panics on error.
func (c *Config) MustDone() *Handler {
	h, err := c.Done()
	if err != nil {
		panic(errors.WithMessage(err, "failed to create checkpoints.Handler"))
	}
	return h
}

// VarInfo describes one variable of a saved checkpoint.
type VarInfo struct {
	Name       string
	Dimensions []int
	DType      dtypes.DType
}

// Shape of the saved variable.
func (vi VarInfo) Shape() shapes.Shape {
	return shapes.Make(vi.DType, vi.Dimensions...)
}

// Metadata is the manifest of one checkpoint, stored as its .json file. The
// matching .bin gob payload holds the tensor values in Variables order.
type Metadata struct {
	Step      int64
	Variables []VarInfo
}

// Handler saves and restores the variables of one session. Create it with
// Build followed by Config.Done; see the package documentation for an
// example.
//
// Restoring writes the checkpoint values straight into the session's variable
// storage, bypassing initializers. Values whose variable is missing from the
// graph are kept aside (see LoadedVariables) and written back by the next
// Save, so a save/restore cycle never drops state.
//
// Handler methods are not safe for concurrent use.
type Handler struct {
	config *Config
	sess   *session.Session

	loaded map[string]*tensors.Tensor
	step   int64
	count  int
}

// String implements fmt.Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir returns the directory the Handler is configured to. It cannot be
// changed once the Handler is created.
//
// It returns "" if the Handler is nil.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}

// GlobalStep returns the step recorded in the last checkpoint saved or
// restored, 0 if there was none yet.
func (h *Handler) GlobalStep() int64 {
	return h.step
}

// newCheckpointBaseName returns the base name for the next checkpoint's files.
func (h *Handler) newCheckpointBaseName(step int64) string {
	now := time.Now().Format("20060102-150405")
	baseName := fmt.Sprintf("%sn%07d-%s", baseNamePrefix, h.count, now)
	if step > 0 {
		return fmt.Sprintf("%s-step-%08d", baseName, step)
	}
	return baseName + "-initial"
}

// List returns the base names of the checkpoints under dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing checkpoints in %q", dir)
	}
	var checkpoints []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, metadataSuffix) {
			continue
		}
		checkpoints = append(checkpoints, strings.TrimSuffix(fileName, metadataSuffix))
	}
	sort.Strings(checkpoints)
	return checkpoints, nil
}

// MetadataPath returns the path of the manifest file of the checkpoint with
// the given base name.
func MetadataPath(dir, baseName string) string {
	return filepath.Join(dir, baseName+metadataSuffix)
}

// PayloadPath returns the path of the variable data file of the checkpoint
// with the given base name.
func PayloadPath(dir, baseName string) string {
	return filepath.Join(dir, baseName+payloadSuffix)
}

// ListCheckpoints returns the base names of the saved checkpoints in time
// order, older first.
func (h *Handler) ListCheckpoints() ([]string, error) {
	return List(h.config.dir)
}

// HasCheckpoints returns whether there is any checkpoint saved.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckpointCount returns the largest checkpoint count among the saved
// checkpoints, so the next save uses count+1. The input should be the output
// of ListCheckpoints.
func maxCheckpointCount(checkpoints []string) int {
	maxID := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindStringSubmatch(name)
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		if id > maxID {
			maxID = id
		}
	}
	return maxID
}

// ReadMetadata reads the manifest of one saved checkpoint.
func ReadMetadata(dir, baseName string) (*Metadata, error) {
	fileName := MetadataPath(dir, baseName)
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint metadata file %s", fileName)
	}
	var meta Metadata
	err = json.NewDecoder(f).Decode(&meta)
	_ = f.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint metadata file %s", fileName)
	}
	return &meta, nil
}

// ReadValues reads the manifest and the variable values of one saved
// checkpoint.
func ReadValues(dir, baseName string) (*Metadata, map[string]*tensors.Tensor, error) {
	meta, err := ReadMetadata(dir, baseName)
	if err != nil {
		return nil, nil, err
	}
	fileName := PayloadPath(dir, baseName)
	f, err := os.Open(fileName)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open checkpoint data file %s", fileName)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	values := make(map[string]*tensors.Tensor, len(meta.Variables))
	for _, vi := range meta.Variables {
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "reading variable %q from checkpoint data file %s", vi.Name, fileName)
		}
		if !value.Shape().Equal(vi.Shape()) {
			return nil, nil, errors.Errorf("checkpoint %s: variable %q holds shape %s, manifest says %s",
				baseName, vi.Name, value.Shape(), vi.Shape())
		}
		values[vi.Name] = value
	}
	return meta, values, nil
}

// Save writes a new checkpoint with every initialized session variable
// (minus the configured exclusions), plus any previously restored values the
// graph has no variable for, and prunes older checkpoints down to the Keep
// count. step is recorded in the manifest; pass 0 for an initial,
// pre-training checkpoint.
func (h *Handler) Save(step int64) error {
	values := make(map[string]*tensors.Tensor)
	for _, name := range h.sess.EnumerateVariables() {
		if h.config.excludeFromSave[name] {
			continue
		}
		value, err := h.sess.VariableValue(name)
		if err != nil {
			return errors.WithMessagef(err, "%s reading variable %q", h, name)
		}
		values[name] = value
	}
	for name, value := range h.loaded {
		if h.config.excludeFromSave[name] {
			continue
		}
		if _, found := values[name]; found {
			continue
		}
		values[name] = value
	}

	meta := &Metadata{Step: step, Variables: make([]VarInfo, 0, len(values))}
	for _, name := range xslices.SortedKeys(values) {
		shape := values[name].Shape()
		meta.Variables = append(meta.Variables, VarInfo{
			Name:       name,
			Dimensions: shape.Dimensions,
			DType:      shape.DType,
		})
	}

	baseName := h.newCheckpointBaseName(step)
	h.count++
	if err := h.writePayload(baseName, meta, values); err != nil {
		return err
	}
	if err := h.writeMetadata(baseName, meta); err != nil {
		return err
	}
	h.step = step
	klog.V(1).Infof("%s saved checkpoint %q", h, baseName)
	return h.keepNCheckpoints()
}

// writePayload writes the .bin gob payload through a temporary file renamed
// into place.
func (h *Handler) writePayload(baseName string, meta *Metadata, values map[string]*tensors.Tensor) error {
	fileName := PayloadPath(h.config.dir, baseName)
	tmpName := filepath.Join(h.config.dir, "tmp-"+uuid.NewString())
	f, err := os.Create(tmpName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint data file %s", h, tmpName)
	}
	enc := gob.NewEncoder(f)
	for _, vi := range meta.Variables {
		if err := values[vi.Name].GobSerialize(enc); err != nil {
			_ = f.Close()
			_ = os.Remove(tmpName)
			return errors.WithMessagef(err, "%s: failed to write variable %q", h, vi.Name)
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "%s: failed to close checkpoint data file %s", h, tmpName)
	}
	if err := os.Rename(tmpName, fileName); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "%s: failed to rename checkpoint data file to %s", h, fileName)
	}
	return nil
}

// writeMetadata writes the .json manifest through a temporary file renamed
// into place. It must run after writePayload: the manifest appearing is what
// makes the checkpoint visible.
func (h *Handler) writeMetadata(baseName string, meta *Metadata) error {
	fileName := MetadataPath(h.config.dir, baseName)
	tmpName := filepath.Join(h.config.dir, "tmp-"+uuid.NewString())
	f, err := os.Create(tmpName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint metadata file %s", h, tmpName)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "\t")
	if err := enc.Encode(meta); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "%s: failed to write checkpoint metadata file %s", h, tmpName)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "%s: failed to close checkpoint metadata file %s", h, tmpName)
	}
	if err := os.Rename(tmpName, fileName); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "%s: failed to rename checkpoint metadata file to %s", h, fileName)
	}
	return nil
}

// keepNCheckpoints checks if there are more than the configured number of
// checkpoints and removes the excess, older first.
func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		return errors.WithMessagef(err, "%s failed to list saved checkpoints", h)
	}
	if len(list) <= h.config.keep {
		return nil
	}
	for _, baseName := range list[:len(list)-h.config.keep] {
		for _, suffix := range []string{payloadSuffix, metadataSuffix} {
			fileName := filepath.Join(h.config.dir, baseName+suffix)
			if err := os.Remove(fileName); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "%s failed to remove excess checkpoint file %q", h, fileName)
			}
		}
	}
	return nil
}

// Restore loads the newest checkpoint into the session. It fails if the
// directory holds no checkpoint yet.
func (h *Handler) Restore() error {
	list, err := h.ListCheckpoints()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return errors.Errorf("%s has no checkpoint to restore", h)
	}
	return h.RestoreCheckpoint(xslices.Last(list))
}

// RestoreCheckpoint loads the checkpoint with the given base name into the
// session, bypassing variable initializers. Values whose variable is missing
// from the graph are kept aside and included in the next Save; a value that
// does not fit its graph variable's shape is an error.
func (h *Handler) RestoreCheckpoint(baseName string) error {
	meta, values, err := ReadValues(h.config.dir, baseName)
	if err != nil {
		return errors.WithMessagef(err, "%s restoring %q", h, baseName)
	}
	g := h.sess.Graph()
	h.loaded = make(map[string]*tensors.Tensor)
	for _, vi := range meta.Variables {
		op := g.OperationByName(vi.Name)
		if op == nil || op.Type() != "VariableV2" {
			klog.V(1).Infof("%s: checkpoint %q value %q has no graph variable, keeping it aside", h, baseName, vi.Name)
			h.loaded[vi.Name] = values[vi.Name]
			continue
		}
		if err := h.sess.SetVariable(vi.Name, values[vi.Name]); err != nil {
			return errors.WithMessagef(err, "%s restoring %q", h, baseName)
		}
	}
	h.step = meta.Step
	klog.V(1).Infof("%s restored checkpoint %q (step %d)", h, baseName, meta.Step)
	return nil
}

// LoadedVariables returns the values of the last restored checkpoint that
// matched no graph variable. The Handler owns the returned map, don't change
// it.
func (h *Handler) LoadedVariables() map[string]*tensors.Tensor {
	return h.loaded
}

// replaceTildeInDir expands a leading "~" to the current user's home
// directory.
func replaceTildeInDir(dir string) string {
	if len(dir) == 0 || dir[0] != '~' {
		return dir
	}
	usr, err := user.Current()
	if err != nil {
		return dir
	}
	return path.Join(usr.HomeDir, dir[1:])
}
