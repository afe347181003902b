// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements saving and loading of completion network parameters to files, or loading
// them from an embedded checkpoint.
//
// A checkpoint is a pair of files sharing a base name: a JSON file with the Metadata (the network layout
// and an index of the variables) and a binary file with the values of the variables, gzip compressed by
// default.
//
// The main object is the Handler, created by calling Build (or Load), followed by the various options
// and finally Config.Done. If a checkpoint exists, the latest one is loaded when the Handler is created.
// The Handler implements pcn.Source, so it can be given directly to pcn.LoadModel.
//
// Example: load the latest checkpoint of a directory.
//
//	checkpoint, err := checkpoints.Load().Dir(*flagCheckpoint).Done()
//	if err != nil { … }
//	model, err := pcn.LoadModel(checkpoint)
//
// Example 2: save randomly initialized parameters, keeping only the last 3 checkpoints.
//
//	checkpoint := checkpoints.Build().Dir(dir).Keep(3).MustDone()
//	params, err := pcn.RandomInit(pcn.SimpleConfig(), 42).Load()
//	…
//	err = checkpoint.Save(params)
//
// Example 3: load a checkpoint embedded in the binary, to distribute a model for inference.
//
//	//go:embed "my_model/checkpoint.json"
//	var myModelJson string
//
//	//go:embed "my_model/checkpoint.bin"
//	var myModelBin []byte
//
//	...
//	checkpoint := checkpoints.Load().FromEmbed(myModelJson, myModelBin).MustDone()
package checkpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/pcn/pkg/core/shapes"
	"github.com/gomlx/pcn/pkg/ml/layers"
	"github.com/gomlx/pcn/pkg/ml/pcn"
	"github.com/gomlx/pcn/pkg/pointcloud"
	"github.com/gomlx/pcn/pkg/support/fsutil"
	"github.com/gomlx/pcn/pkg/support/sets"
)

// Config for the checkpoints' Handler to be created. This is created with Build() or Load() and
// configured with the various methods. Once finished, call Done() and it will output
// a checkpoints.Handler that loads (if there are any previously saved checkpoints) and
// saves checkpoints.
type Config struct {
	err error

	// One of the two are set: dir or jsonReader+binReader.
	dir        string
	jsonReader io.Reader
	binReader  io.ReadSeeker

	keep     int
	mustLoad bool

	binFormat BinFormat
	storeAs   dtypes.DType
}

// Build a configuration for building a checkpoints.Handler. After configuring the
// Config object returned, call `Done` to get the configured checkpoints.Handler.
//
// The new checkpoints.Handler will load the latest checkpoint (see Config.Dir, Config.DirFromBase or
// Config.FromEmbed to specify where to load/save) if it exists, otherwise it creates a new directory
// and can simply be used to save checkpoints.
func Build() *Config {
	return &Config{
		keep:      1,
		binFormat: BinGZIP,
		storeAs:   dtypes.Float32,
	}
}

// Load creates the configuration to load a checkpoint.
// It's identical to Build, except it will fail if the checkpoint does not already exist.
//
// Use Dir, DirFromBase or FromEmbed to configure the location of the checkpoint.
// Once configured, call Config.Done to actually load it.
func Load() *Config {
	c := Build()
	c.mustLoad = true
	return c
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Dir sets the directory where to save / load the checkpoints. A leading "~" is replaced by the
// home directory.
//
// One must set either Dir, DirFromBase, TempDir or FromEmbed before building the checkpoints.Handler.
func (c *Config) Dir(dir string) *Config {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		c.setError(err)
		return c
	}
	c.dir = dir
	fi, err := os.Stat(dir)
	if err != nil && !os.IsNotExist(err) {
		c.setError(errors.Wrapf(err, "failed to os.Stat(%q)", dir))
		return c
	}
	if err == nil && !fi.IsDir() {
		c.setError(errors.Errorf("checkpoint directory %q exists but it's a normal file, not a directory", dir))
		return c
	}
	if err == nil {
		// Directory exists, all fine.
		return c
	}
	if c.mustLoad {
		c.setError(errors.Wrapf(err, "checkpoint directory %q does not exist or cannot be accessed", dir))
		return c
	}

	// Create the directory.
	err = os.MkdirAll(dir, DirPermMode)
	if err != nil {
		c.setError(errors.Wrapf(err, "trying to create dir %q", dir))
	}
	return c
}

// DirFromBase sets the directory where to save / load the checkpoints.
// If `dir` is not an absolute path, assumes it is a subdirectory of baseDir.
func (c *Config) DirFromBase(dir, baseDir string) *Config {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		c.setError(err)
		return c
	}
	if !path.IsAbs(dir) {
		baseDir, err = fsutil.ReplaceTildeInDir(baseDir)
		if err != nil {
			c.setError(err)
			return c
		}
		dir = path.Join(baseDir, dir)
	}
	return c.Dir(dir)
}

// TempDir creates a temporary directory under dir, with the pattern name, and uses this
// directory to load / save checkpoints. It's a convenience wrapper to os.MkdirTemp.
//
// If dir is the empty string, MkdirTemp uses the default directory for temporary files, as returned
// by os.TempDir.
//
// Any errors are reported on the return to the call to the method Done.
func (c *Config) TempDir(dir, pattern string) *Config {
	newDir, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		c.setError(errors.Wrapf(err, "failed to create os.MkdirTemp(%q, %q)", dir, pattern))
		return c
	}
	c.dir = newDir
	err = os.Chmod(c.dir, DirPermMode)
	if err != nil {
		c.setError(errors.Wrapf(err, "failed to os.Chmod(%q, %s)", dir, DirPermMode))
	}
	return c
}

// FromEmbed allows one to load a checkpoint from an embedded checkpoint (using the go:embed tag).
//
// You must set only one of Dir (or DirFromBase) or FromEmbed, but not both. A Handler created
// from an embedded checkpoint cannot Save.
func (c *Config) FromEmbed(json string, binary []byte) *Config {
	return c.FromReaders(strings.NewReader(json), bytes.NewReader(binary))
}

// FromReaders loads the checkpoint from the given JSON metadata and binary data readers.
// Otherwise, it works as FromEmbed.
//
// The readers are consumed during Done, and no references to them are kept afterwards.
func (c *Config) FromReaders(jsonReader io.Reader, binReader io.ReadSeeker) *Config {
	c.jsonReader = jsonReader
	c.binReader = binReader
	return c
}

// Keep configures the number of checkpoint files to keep. If set to -1, it will never erase older checkpoints.
// The default is 1.
func (c *Config) Keep(n int) *Config {
	c.keep = n
	return c
}

// WithCompression sets the binary format to the provided value. The default is BinGZIP.
// Invalid values are ignored.
func (c *Config) WithCompression(bf BinFormat) *Config {
	if bf == BinGZIP || bf == BinUncompressed {
		c.binFormat = bf
	}
	return c
}

// StoreAs sets the dtype used to store the values in the binary file: dtypes.Float32 (the default) or
// dtypes.Float16, which halves the size at the cost of precision.
// Values are always converted back to float32 when loaded.
func (c *Config) StoreAs(dtype dtypes.DType) *Config {
	if !slices.Contains(storageDTypes, dtype) {
		c.setError(errors.Errorf("checkpoints can only be stored as %v, got %s", storageDTypes, dtype))
		return c
	}
	c.storeAs = dtype
	return c
}

// Done creates a Handler with the current configuration. It returns an error if
// the configuration is invalid, if it's missing information, or if the latest checkpoint
// fails to load.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" && c.jsonReader == nil {
		return nil, errors.Errorf("directory for checkpoints not configured or empty, and no embedded checkpoint configured")
	}
	if c.dir != "" && c.jsonReader != nil {
		return nil, errors.Errorf("cannot use both Dir/DirFromBase and FromEmbed at the same time, choose one.")
	}
	handler := &Handler{config: c}

	if c.dir != "" {
		// Load (if checkpoints exist) from a directory.
		checkpoints, err := handler.ListCheckpoints()
		if err != nil {
			return nil, err
		}
		if len(checkpoints) == 0 && c.mustLoad {
			return nil, errors.Errorf("no checkpoints found in %q", c.dir)
		}
		handler.checkpointsCount = maxCheckPointCountFromCheckpoints(checkpoints) + 1
		if len(checkpoints) > 0 {
			if err = handler.LoadCheckpoint(checkpoints[len(checkpoints)-1]); err != nil {
				return nil, err
			}
		}
		return handler, nil
	}

	// Load from an embedded checkpoint.
	if c.binReader == nil {
		return nil, errors.Errorf("embedded checkpoint given without binary data")
	}
	binReader, err := getLoadVarFilesFromReader(c.binReader)
	if err == nil {
		err = handler.loadCheckpoint(c.jsonReader, binReader)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load checkpoint from embedded checkpoint (json+bin blobs) given")
	}
	// Don't keep links to the data, since it's no longer used.
	c.jsonReader = nil
	c.binReader = nil
	return handler, nil
}

// MustDone constructs the checkpoints.Handler. It panics if there was an error.
func (c *Config) MustDone() *Handler {
	h, err := c.Done()
	if err != nil {
		panic(errors.WithMessage(err, "failed to create checkpoints.Handler"))
	}
	return h
}

// Handler handles saving and loading of checkpoints of completion network parameters.
// See an example in the package documentation.
//
// It is created and configured using Build() or Load(), followed by options setting and then calling
// Config.Done(). The latest checkpoint is loaded at creation time.
//
// It implements pcn.Source: Handler.Load returns a copy of the loaded parameters.
// A Handler is not safe for concurrent use.
type Handler struct {
	config *Config

	metadata *Metadata
	params   *pcn.Parameters
	modelID  string

	checkpointsCount int
}

// String implements Stringer.
func (h *Handler) String() string {
	if h.config.dir == "" {
		return "checkpoints.Handler(<embedded>)"
	}
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir returns the directory the Handler is configured to.
// It cannot be changed once the Handler was created.
//
// It returns "" (empty) if the Handler is `nil` or loaded from an embedded checkpoint.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}

// ModelID returns the id of the network, shared by all its checkpoints, or "" if nothing was loaded or
// saved yet.
func (h *Handler) ModelID() string { return h.modelID }

// Metadata of the last checkpoint loaded or saved, or nil if none. Don't change it.
func (h *Handler) Metadata() *Metadata { return h.metadata }

// HasParameters returns whether a checkpoint was loaded or saved.
func (h *Handler) HasParameters() bool { return h.params != nil }

// Load implements pcn.Source. It returns a copy of the parameters of the last checkpoint loaded
// or saved.
func (h *Handler) Load() (*pcn.Parameters, error) {
	if h.params == nil {
		return nil, errors.Errorf("%s has no checkpoint loaded", h)
	}
	return h.params.Clone(), nil
}

var _ pcn.Source = (*Handler)(nil)

// newCheckpointBaseName returns the base name for the checkpoint files.
func (h *Handler) newCheckpointBaseName() string {
	now := time.Now().Format("20060102-150405")
	return fmt.Sprintf("%sn%07d-%s", baseNamePrefix, h.checkpointsCount, now)
}

const (
	baseNamePrefix = "checkpoint-"

	// JsonNameSuffix for the JSON files returned by Handler.ListCheckpoints.
	JsonNameSuffix = ".json"

	// BinDataSuffix for the data files (holding the variable values) returned by Handler.ListCheckpoints.
	BinDataSuffix = ".bin"
)

// ListCheckpoints returns the base file paths of the checkpoints in the directory in time order (older first).
//
// The actual paths are these base file paths suffixed with JsonNameSuffix and BinDataSuffix.
func (h *Handler) ListCheckpoints() (checkpoints []string, err error) {
	if h.config.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(h.config.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", h)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, JsonNameSuffix) {
			continue
		}
		baseName := fileName[:len(fileName)-len(JsonNameSuffix)]
		checkpoints = append(checkpoints, baseName)
	}
	sort.Strings(checkpoints)
	return checkpoints, nil
}

// HasCheckpoints returns whether there are any checkpoints saved.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckPointCountFromCheckpoints returns the largest `checkpointCount` in the saved
// checkpoints, so the next checkpoint saved uses this count+1.
//
// The input should be the output of Handler.ListCheckpoints.
func maxCheckPointCountFromCheckpoints(checkpoints []string) int {
	maxId := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindAllStringSubmatch(name, 1)
		if len(matches) != 1 || len(matches[0]) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[0][1])
		if err != nil {
			continue
		}
		if id > maxId {
			maxId = id
		}
	}
	return maxId
}

// LoadCheckpoint loads a specific checkpoint, given its base name as returned by ListCheckpoints, replacing
// any parameters previously loaded.
//
// Usually this does not need to be called: when the Handler is created it loads the latest checkpoint.
func (h *Handler) LoadCheckpoint(baseName string) error {
	if klog.V(1).Enabled() {
		klog.Infof("loading: %q", baseName)
	}
	binFileName := filepath.Join(h.config.dir, baseName+BinDataSuffix)
	f, err := os.Open(binFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to open checkpoint data file %s", h, binFileName)
	}
	defer func() { _ = f.Close() }()
	binFile, err := getLoadVarFilesFromReader(f)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to read checkpoint data file %s", h, binFileName)
	}

	jsonFileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
	jsonFile, err := os.Open(jsonFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to open checkpoint metadata file %s", h, jsonFileName)
	}
	defer func() { _ = jsonFile.Close() }()
	if err = h.loadCheckpoint(jsonFile, binFile); err != nil {
		return errors.WithMessagef(err,
			"failed loading checkpoint from %s{%s,%s}", baseName, JsonNameSuffix, BinDataSuffix)
	}
	return nil
}

// loadCheckpoint from a jsonReader (io.Reader) for metadata, and a binReader with the actual data for the variables.
//
// The layers are allocated from the metadata layout, and the shape declared for each variable is checked against
// the layout: any disagreement is a shape error.
func (h *Handler) loadCheckpoint(jsonReader, binReader io.Reader) error {
	dec := json.NewDecoder(jsonReader)
	var metadata *Metadata
	if err := dec.Decode(&metadata); err != nil {
		return errors.Wrapf(err, "%s: failed to decode contents of checkpoint", h)
	}
	if metadata == nil {
		return errors.Errorf("%s: empty checkpoint metadata", h)
	}
	params := &pcn.Parameters{
		Name:        metadata.Name,
		InputCount:  metadata.InputCount,
		OutputCount: metadata.OutputCount,
	}
	featureDim, err := checkMetadata(metadata)
	if err != nil {
		return errors.WithMessagef(err, "%s", h)
	}
	params.Encoder, err = layers.FromLayout(metadata.Encoder, pointcloud.Dim)
	if err != nil {
		return errors.WithMessagef(err, "%s: encoder layout", h)
	}
	params.Decoder, err = layers.FromLayout(metadata.Decoder, featureDim)
	if err != nil {
		return errors.WithMessagef(err, "%s: decoder layout", h)
	}
	variables := make(map[string]layers.Variable)
	for _, v := range params.Variables() {
		variables[v.Name] = v
	}

	// Load variable values: we assume they are stored in order.
	var memoryPos int
	for _, varInfo := range metadata.Variables {
		v := variables[varInfo.ParameterName]
		if varInfo.Pos != memoryPos {
			return errors.Errorf("variable %s (%s) position at %d is out-of-order, expected it to be in %d",
				varInfo.ParameterName, v.Shape, varInfo.Pos, memoryPos)
		}
		valueSize := bytesPerValue(varInfo.DType)
		if valueSize == 0 {
			return errors.Errorf("%s: variable %q stored with unsupported dtype %s", h, varInfo.ParameterName, varInfo.DType)
		}
		if varInfo.Length != valueSize*len(v.Values) {
			return shapes.Errorf("%s: variable %q (%s) has %d bytes, wanted %d",
				h, varInfo.ParameterName, varInfo.Shape(), varInfo.Length, valueSize*len(v.Values))
		}
		data := make([]byte, varInfo.Length)
		if _, err := io.ReadFull(binReader, data); err != nil {
			return errors.Wrapf(err, "%s: failed to read variable %q contents of checkpoint binary file at position %d",
				h, varInfo.ParameterName, varInfo.Pos)
		}
		if err := decodeValues(data, varInfo.DType, v.Values); err != nil {
			return errors.WithMessagef(err, "%s: variable %q", h, varInfo.ParameterName)
		}
		memoryPos += varInfo.Length
	}

	h.metadata = metadata
	h.params = params
	h.modelID = metadata.ModelID
	if klog.V(1).Enabled() {
		klog.Infof("%s: loaded %q (model id %s): %d variables, %d parameters",
			h, params.Name, h.modelID, len(metadata.Variables), params.NumParameters())
	}
	return nil
}

// checkMetadata validates the layouts in the metadata, and that the variables declared match exactly the ones
// the layouts require, with the same shapes. It returns the encoder output dimension.
// Nothing is allocated from the metadata values.
func checkMetadata(metadata *Metadata) (featureDim int, err error) {
	featureDim, err = layers.LayoutOutputDim(metadata.Encoder, pointcloud.Dim)
	if err != nil {
		return 0, errors.WithMessage(err, "encoder layout")
	}
	if _, err = layers.LayoutOutputDim(metadata.Decoder, featureDim); err != nil {
		return 0, errors.WithMessage(err, "decoder layout")
	}
	required := make(map[string]shapes.Shape)
	for _, v := range append(layers.LayoutVariables(pcn.EncoderScope, metadata.Encoder),
		layers.LayoutVariables(pcn.DecoderScope, metadata.Decoder)...) {
		required[v.Name] = v.Shape
	}
	declared := sets.Make[string](len(metadata.Variables))
	for _, varInfo := range metadata.Variables {
		shape, found := required[varInfo.ParameterName]
		if !found {
			return 0, errors.Errorf("checkpoint has unknown variable %q", varInfo.ParameterName)
		}
		if declared.Has(varInfo.ParameterName) {
			return 0, errors.Errorf("variable %q stored more than once", varInfo.ParameterName)
		}
		if !slices.Equal(varInfo.Dimensions, shape.Dimensions) {
			return 0, shapes.Errorf("variable %q stored with shape %v, but the layout requires %v",
				varInfo.ParameterName, varInfo.Dimensions, shape.Dimensions)
		}
		declared.Insert(varInfo.ParameterName)
	}
	if len(declared) != len(required) {
		all := sets.Make[string](len(required))
		for name := range required {
			all.Insert(name)
		}
		return 0, errors.Errorf("checkpoint is missing variables %q", sets.Sorted(all.Sub(declared)))
	}
	return featureDim, nil
}

// checkStacks verifies that the encoder and the decoder chain, before their parameters are serialized
// or filled in.
func checkStacks(params *pcn.Parameters) error {
	featureDim, err := params.Encoder.OutputDim(pointcloud.Dim)
	if err != nil {
		return errors.WithMessage(err, "encoder")
	}
	if _, err = params.Decoder.OutputDim(featureDim); err != nil {
		return errors.WithMessage(err, "decoder")
	}
	return nil
}

// Save creates a new checkpoint with the given parameters. Older checkpoints beyond the number
// configured with Config.Keep are removed.
//
// The parameters are copied, and become the ones returned by Handler.Load.
//
// By default, the binary file is compressed. The option WithCompression overrides the default behavior.
// This information is reported in the JSON file.
func (h *Handler) Save(params *pcn.Parameters) error {
	if h.config.dir == "" {
		return errors.Errorf("%s: cannot save checkpoints of a Handler without a directory", h)
	}
	if params == nil {
		return errors.Errorf("%s: no parameters to save", h)
	}
	if err := checkStacks(params); err != nil {
		return errors.WithMessagef(err, "%s: invalid parameters", h)
	}
	if h.modelID == "" {
		h.modelID = uuid.NewString()
	}
	metadata := &Metadata{
		ModelID:     h.modelID,
		Name:        params.Name,
		InputCount:  params.InputCount,
		OutputCount: params.OutputCount,
		Encoder:     params.Encoder.Layout(),
		Decoder:     params.Decoder.Layout(),
		BinFormat:   h.config.binFormat.String(),
	}

	// Create files.
	baseName := h.newCheckpointBaseName()
	h.checkpointsCount++ // Bump unique number.
	varFileName := filepath.Join(h.config.dir, baseName+BinDataSuffix)
	varFile, err := getSaveVarFiles(varFileName, h.config.binFormat)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint data file %s", h, varFileName)
	}
	pos := 0
	for _, v := range params.Variables() {
		data, err := encodeValues(v.Values, h.config.storeAs)
		if err != nil {
			_ = varFile.Close()
			return errors.WithMessagef(err, "%s: variable %s", h, v.Name)
		}
		if _, err = varFile.Write(data); err != nil {
			_ = varFile.Close()
			return errors.Wrapf(err, "%s: failed to write variable %s", h, v.Name)
		}
		metadata.Variables = append(metadata.Variables, VariableInfo{
			ParameterName: v.Name,
			Dimensions:    slices.Clone(v.Shape.Dimensions),
			DType:         h.config.storeAs,
			Pos:           pos,
			Length:        len(data),
		})
		pos += len(data)
	}
	if err := varFile.Flush(); err != nil {
		_ = varFile.Close()
		return errors.Wrapf(err, "%s: failed to flush checkpoint data file %s", h, varFileName)
	}
	if err := varFile.Close(); err != nil {
		return errors.Wrapf(err, "%s: failed to close checkpoint data file %s", h, varFileName)
	}

	// Metadata is written last: a checkpoint is only listed once its JSON file exists.
	jsonFileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
	jsonFile, err := os.Create(jsonFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint metadata file %s", h, jsonFileName)
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "\t")
	err = enc.Encode(metadata)
	if err != nil {
		_ = jsonFile.Close()
		return errors.Wrapf(err, "%s: failed to write checkpoint metadata file %s", h, jsonFileName)
	}
	err = jsonFile.Close()
	if err != nil {
		return errors.Wrapf(err, "%s: failed to close checkpoint metadata file %s", h, jsonFileName)
	}
	h.metadata = metadata
	h.params = params.Clone()
	if klog.V(1).Enabled() {
		klog.Infof("%s: saved %q as %s (%d bytes of %s values)", h, params.Name, baseName, pos, h.config.storeAs)
	}

	// Remove excess checkpoints.
	return h.keepNCheckpoints()
}

// keepNCheckpoints checks if there are more than the configured number of checkpoints, and remove
// the excess.
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

	// Remove the excess checkpoints, starting from the earlier ones.
	list = list[:len(list)-h.config.keep]
	for _, baseName := range list {
		varFileName := filepath.Join(h.config.dir, baseName+BinDataSuffix)
		jsonFileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
		for _, fileName := range []string{jsonFileName, varFileName} {
			err = os.Remove(fileName)
			if err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "%s failed to remove excess checkpoint file %q", h, fileName)
			}
		}
	}
	return nil
}
