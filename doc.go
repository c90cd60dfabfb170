// Package clips is the persistence layer of an embeddable rule-based
// environment: it saves compiled constructs to a portable binary image and
// loads them back as an equivalent in-memory graph.
//
// An Environment owns a symbol table, a function registry, a set of
// lifecycle hooks and the constructs currently defined. Images live in a
// blob store (local files, memory, MinIO, S3, bbolt or badger).
//
// # Quick Start
//
//	env := clips.New(clips.WithBlobStore(blobstore.NewLocalStore("./images")))
//	defer env.Close()
//
//	if err := env.SaveImage(ctx, "kb.img"); err != nil {
//	    return err
//	}
//	if err := env.LoadImage(ctx, "kb.img"); err != nil {
//	    return err
//	}
//
// # Load Protocol
//
// A load validates the header (prefix, version and record sizes) before it
// touches any state, runs the before-load hooks, relocates every segment and
// verifies the trailer digest. Only then does the image become active and
// the after-load hooks run. Any failure runs the abort hooks and leaves the
// environment exactly as it was.
//
// While an image is active, constructs cannot be defined or removed and no
// image can be saved. Unload asks every clear-ready hook first; a single
// refusal keeps the image.
//
// # Commands
//
// Every environment registers the bload, bsave, unload-image and
// image-loaded-p commands, available through Call:
//
//	_, err := env.Call(ctx, "bload", "kb.img")
package clips
