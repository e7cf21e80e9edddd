package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"github.com/tendant/simple-assets/pkg/simpleasset"
)

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, svc simpleasset.Service, command string, args []string, out io.Writer) error {
	switch command {
	case "publish":
		return runPublish(ctx, svc, args, out)
	case "resolve":
		return runResolve(ctx, svc, args, out)
	case "mint":
		return runMint(ctx, svc, args, out)
	case "versions":
		return runVersions(ctx, svc, args, out)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, command)
}

func newFlagSet(name string) (*pflag.FlagSet, *string, *bool) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	as := flags.String("as", "admin-cli", "identity recorded for this operation")
	useJSON := flags.Bool("json", false, "output as JSON")
	return flags, as, useJSON
}

func operator(id string) *simpleasset.User {
	return &simpleasset.User{ID: id, Scopes: []simpleasset.Scope{simpleasset.ScopeAdmin}}
}

func runPublish(ctx context.Context, svc simpleasset.Service, args []string, out io.Writer) error {
	flags, as, useJSON := newFlagSet("publish")
	version := flags.String("version", "", "version to publish")
	latest := flags.Bool("latest", true, "move the latest alias to this version")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if flags.NArg() != 1 || *version == "" {
		return fmt.Errorf("%w: publish needs --version and one directory", errUsage)
	}

	files, err := collectFiles(flags.Arg(0))
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := svc.PublishBatch(ctx, operator(*as), simpleasset.PublishBatch{
		Version:   *version,
		Files:     files,
		SetLatest: *latest,
	})
	if err != nil {
		return err
	}

	if *useJSON {
		return writeJSON(out, result)
	}
	fmt.Fprintf(out, "Published %s (%d files: %d uploaded, %d already stored) in %s\n",
		result.Manifest.Version, len(result.Manifest.Entries), result.Uploaded, result.Skipped,
		time.Since(start).Round(time.Millisecond))
	if *latest {
		fmt.Fprintf(out, "latest -> %s\n", result.Manifest.Version)
	}
	return nil
}

// collectFiles lists regular files under root with slash-separated paths
// relative to root
func collectFiles(root string) ([]simpleasset.File, error) {
	var files []simpleasset.File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, simpleasset.File{
			Path:     filepath.ToSlash(rel),
			Source:   simpleasset.FileSource(path),
			MimeType: mime.TypeByExtension(filepath.Ext(path)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found under %s", root)
	}
	return files, nil
}

func runResolve(ctx context.Context, svc simpleasset.Service, args []string, out io.Writer) error {
	flags, as, useJSON := newFlagSet("resolve")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	version := simpleasset.LatestVersion
	if flags.NArg() > 0 {
		version = flags.Arg(0)
	}

	manifest, err := svc.ResolveManifest(ctx, operator(*as), version)
	if err != nil {
		return err
	}
	if *useJSON {
		return writeJSON(out, manifest)
	}

	fmt.Fprintf(out, "Version:      %s\n", manifest.Version)
	fmt.Fprintf(out, "Published at: %s\n", manifest.PublishedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Published by: %s\n\n", manifest.PublishedBy)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tHASH")
	for _, e := range manifest.Entries {
		fmt.Fprintf(w, "%s\t%d\t%s\n", e.Path, e.Size, e.Hash)
	}
	return w.Flush()
}

func runVersions(ctx context.Context, svc simpleasset.Service, args []string, out io.Writer) error {
	flags, as, useJSON := newFlagSet("versions")
	limit := flags.Int("limit", 0, "maximum versions to list (0 lists all)")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *limit < 0 {
		return fmt.Errorf("%w: --limit cannot be negative", errUsage)
	}

	user := operator(*as)
	versions, err := svc.ListVersions(ctx, user, *limit)
	if err != nil {
		return err
	}
	if *useJSON {
		return writeJSON(out, versions)
	}

	latest := ""
	if m, err := svc.ResolveManifest(ctx, user, simpleasset.LatestVersion); err == nil {
		latest = m.Version
	} else if !errors.Is(err, simpleasset.ErrNotFound) {
		return err
	}
	for _, v := range versions {
		if v == latest {
			fmt.Fprintf(out, "%s (latest)\n", v)
			continue
		}
		fmt.Fprintln(out, v)
	}
	return nil
}

func runMint(ctx context.Context, svc simpleasset.Service, args []string, out io.Writer) error {
	flags, as, useJSON := newFlagSet("mint")
	subject := flags.String("subject", "", "principal the token is issued to")
	duration := flags.Duration("duration", 0, "token lifetime (default: one year)")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *subject == "" {
		return fmt.Errorf("%w: mint needs --subject", errUsage)
	}

	token, err := svc.MintToken(ctx, operator(*as), simpleasset.MintRequest{
		Subject:  *subject,
		Duration: *duration,
	})
	if err != nil {
		return err
	}
	if *useJSON {
		return writeJSON(out, token)
	}
	fmt.Fprintf(out, "Subject:    %s\nExpires at: %s\n\n%s\n", token.Subject, token.ExpiresAt.Format(time.RFC3339), token.Value)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
