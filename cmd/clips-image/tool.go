package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"

	"golang.org/x/sync/errgroup"

	clips "github.com/tildemin3/clips-core"
	"github.com/tildemin3/clips-core/blobstore"
	"github.com/tildemin3/clips-core/bload"
	"github.com/tildemin3/clips-core/codec"
	"github.com/tildemin3/clips-core/config"
	"github.com/tildemin3/clips-core/image"
	"github.com/tildemin3/clips-core/internal/envelope"
	"github.com/tildemin3/clips-core/internal/resource"
)

type tool struct {
	cfg       *config.Config
	opts      []clips.Option
	store     blobstore.BlobStore
	closer    io.Closer
	resources *resource.Controller
	codec     codec.Codec
	stdout    io.Writer
	stderr    io.Writer
}

func newTool(ctx context.Context, configFile, format string, stdout, stderr io.Writer) (*tool, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}

	c, err := codec.ByName(format)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	store, closer, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &tool{
		cfg:    cfg,
		opts:   opts,
		store:  store,
		closer: closer,
		resources: resource.NewController(resource.Config{
			MaxWorkers:         cfg.Resources.MaxWorkers,
			IOLimitBytesPerSec: cfg.Resources.IOLimitBytesPerSec,
		}),
		codec:  c,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (t *tool) Close() error {
	return t.closer.Close()
}

// environment returns a fresh environment on the tool's store that accepts
// images referencing any function.
func (t *tool) environment() *clips.Environment {
	opts := append([]clips.Option{}, t.opts...)
	opts = append(opts, clips.WithBlobStore(t.store), clips.WithDeferredFunctions("*"))
	return clips.New(opts...)
}

func (t *tool) print(v any) error {
	b, err := t.codec.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(t.stdout, "%s\n", b)
	return err
}

type deffunctionSummary struct {
	Name    string `json:"name"`
	MinArgs int    `json:"min_args"`
	MaxArgs int    `json:"max_args"`
}

type functionSummary struct {
	Name     string `json:"name"`
	MinArgs  int    `json:"min_args"`
	MaxArgs  int    `json:"max_args"`
	Deferred bool   `json:"deferred"`
}

type summary struct {
	Name              string               `json:"name"`
	LoadID            string               `json:"load_id"`
	Version           string               `json:"version"`
	Compression       string               `json:"compression"`
	Digest            string               `json:"digest"`
	Segments          map[string]uint32    `json:"segments"`
	Functions         []functionSummary    `json:"functions"`
	Deffunctions      []deffunctionSummary `json:"deffunctions"`
	Defglobals        []string             `json:"defglobals"`
	UnreferencedAtoms uint64               `json:"unreferenced_atoms"`
}

func summarize(name string, comp envelope.Compression, img *bload.Image) summary {
	s := summary{
		Name:              name,
		LoadID:            img.LoadID.String(),
		Version:           img.Header.Version,
		Compression:       comp.String(),
		Digest:            img.Digest.String(),
		Segments:          make(map[string]uint32, len(img.Directory)),
		Functions:         []functionSummary{},
		Deffunctions:      make([]deffunctionSummary, 0, len(img.Deffunctions)),
		Defglobals:        make([]string, 0, len(img.Defglobals)),
		UnreferencedAtoms: img.Unreferenced().GetCardinality(),
	}
	for _, d := range img.Directory {
		s.Segments[d.Tag.String()] = d.Count
	}
	for i := 0; i < img.Functions.Len(); i++ {
		ref := img.Functions.Ref(image.Ordinal(i))
		s.Functions = append(s.Functions, functionSummary{Name: ref.Name, MinArgs: ref.MinArgs, MaxArgs: ref.MaxArgs})
	}
	it := img.Functions.Unresolved().Iterator()
	for it.HasNext() {
		s.Functions[it.Next()].Deferred = true
	}
	for i := range img.Deffunctions {
		df := &img.Deffunctions[i]
		s.Deffunctions = append(s.Deffunctions, deffunctionSummary{Name: df.ConstructName(), MinArgs: df.MinArgs, MaxArgs: df.MaxArgs})
	}
	for i := range img.Defglobals {
		s.Defglobals = append(s.Defglobals, img.Defglobals[i].ConstructName())
	}
	return s
}

// compression reports the frame the blob name is stored in.
func (t *tool) compression(ctx context.Context, name string) (envelope.Compression, error) {
	rc, err := blobstore.OpenReader(ctx, t.store, name, t.resources)
	if err != nil {
		return envelope.CompressionNone, err
	}
	defer rc.Close()

	r, err := envelope.NewReader(rc)
	if err != nil {
		return envelope.CompressionNone, err
	}
	defer r.Close()
	return r.Compression(), nil
}

func (t *tool) inspect(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(t.stderr, "Usage: clips-image inspect <name>")
		return errUsage
	}
	name := args[0]

	env := t.environment()
	defer env.Close()
	if err := env.LoadImage(ctx, name); err != nil {
		return err
	}
	comp, err := t.compression(ctx, name)
	if err != nil {
		return err
	}
	return t.print(summarize(name, comp, env.Image()))
}

type verifyResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Digest string `json:"digest,omitempty"`
	Error  string `json:"error,omitempty"`
}

var errVerifyFailed = errors.New("verification failed")

func (t *tool) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(t.stderr)
	prefix := fs.String("prefix", "", "Verify every image whose name starts with prefix")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	names := fs.Args()
	if len(names) == 0 {
		var err error
		if names, err = t.store.List(ctx, *prefix); err != nil {
			return fmt.Errorf("list images: %w", err)
		}
	}
	sort.Strings(names)

	results := make([]verifyResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			if err := t.resources.AcquireWorker(gctx); err != nil {
				return err
			}
			defer t.resources.ReleaseWorker()
			results[i] = t.verifyOne(gctx, name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
		if err := t.print(r); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d images", errVerifyFailed, failed, len(results))
	}
	return nil
}

func (t *tool) verifyOne(ctx context.Context, name string) verifyResult {
	env := t.environment()
	defer env.Close()

	if err := env.LoadImage(ctx, name); err != nil {
		return verifyResult{Name: name, Error: err.Error()}
	}
	return verifyResult{Name: name, OK: true, Digest: env.Image().Digest.String()}
}

func (t *tool) convert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(t.stderr)
	compName := fs.String("compression", "none", "Frame of the output image (none, lz4 or zstd)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(t.stderr, "Usage: clips-image convert [-compression c] <src> <dst>")
		return errUsage
	}
	src, dst := fs.Arg(0), fs.Arg(1)
	comp, err := envelope.ParseCompression(*compName)
	if err != nil {
		return err
	}

	// Refuse to propagate a damaged image.
	if res := t.verifyOne(ctx, src); !res.OK {
		return fmt.Errorf("%w: %s: %s", errVerifyFailed, src, res.Error)
	}

	rc, err := blobstore.OpenReader(ctx, t.store, src, t.resources)
	if err != nil {
		return err
	}
	defer rc.Close()
	r, err := envelope.NewReader(rc)
	if err != nil {
		return err
	}
	defer r.Close()

	var written int64
	err = blobstore.WriteBlob(ctx, t.store, dst, t.resources, func(w io.Writer) error {
		cw, err := envelope.NewWriter(w, comp)
		if err != nil {
			return err
		}
		if written, err = io.Copy(cw, r); err != nil {
			_ = cw.Close()
			return err
		}
		return cw.Close()
	})
	if err != nil {
		return fmt.Errorf("convert %s: %w", src, err)
	}
	return t.print(struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		From        string `json:"from"`
		To          string `json:"to"`
		Bytes       int64  `json:"bytes"`
	}{src, dst, r.Compression().String(), comp.String(), written})
}
