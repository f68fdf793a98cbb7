package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	git "github.com/go-git/go-git/v5"
	"github.com/sirupsen/logrus"

	"github.com/melih/lighthouse-sandbox/internal/core/domain"
)

// imageEngine is the slice of the Docker client the provisioner needs.
type imageEngine interface {
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
}

// Config holds the provisioner's build parameters.
type Config struct {
	// Image is the tag the sandbox image is built and inspected under.
	Image string

	// ContextDir is the build context directory containing the Dockerfile.
	ContextDir string

	// Dockerfile is the Dockerfile path relative to ContextDir.
	Dockerfile string

	// TemplateRepo, when set, is a git URL shallow-cloned into ContextDir
	// if the context directory does not exist yet.
	TemplateRepo string
}

// Provisioner ensures the sandbox base image exists locally, building it on
// demand from the configured build context. All operations return structured
// results; failures never propagate as panics.
type Provisioner struct {
	cli imageEngine
	cfg Config
	log logrus.FieldLogger
}

// NewProvisioner creates an image provisioner backed by the given engine client.
func NewProvisioner(cli imageEngine, cfg Config, log logrus.FieldLogger) *Provisioner {
	if cfg.Dockerfile == "" {
		cfg.Dockerfile = "Dockerfile"
	}
	return &Provisioner{
		cli: cli,
		cfg: cfg,
		log: log.WithField("component", "builder"),
	}
}

// Inspect queries the engine for the configured image. "Not found" is a
// normal negative result; any other engine failure is reported in Err.
func (p *Provisioner) Inspect(ctx context.Context) domain.InspectResult {
	info, _, err := p.cli.ImageInspectWithRaw(ctx, p.cfg.Image)
	if err != nil {
		if client.IsErrNotFound(err) {
			return domain.InspectResult{Exists: false}
		}
		return domain.InspectResult{Err: fmt.Errorf("inspect image %s: %w", p.cfg.Image, err)}
	}
	return domain.InspectResult{Exists: true, ImageID: info.ID}
}

// Build builds the sandbox image from the build context, streaming and
// retaining build log lines. The resulting image id is extracted from the
// build's aux messages when present.
func (p *Provisioner) Build(ctx context.Context) domain.BuildResult {
	if err := p.ensureContext(ctx); err != nil {
		return domain.BuildResult{Err: fmt.Errorf("%w: %w", domain.ErrImageBuildFailed, err)}
	}

	tar, err := archive.TarWithOptions(p.cfg.ContextDir, &archive.TarOptions{})
	if err != nil {
		return domain.BuildResult{Err: fmt.Errorf("%w: tar build context: %w", domain.ErrImageBuildFailed, err)}
	}

	p.log.WithField("image", p.cfg.Image).Info("Building sandbox image")
	resp, err := p.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{p.cfg.Image},
		Dockerfile: p.cfg.Dockerfile,
		Remove:     true,
	})
	if err != nil {
		return domain.BuildResult{Err: fmt.Errorf("%w: %w", domain.ErrImageBuildFailed, err)}
	}
	defer resp.Body.Close()

	return p.consumeBuildStream(resp.Body)
}

// consumeBuildStream drains the engine's json message stream, collecting log
// lines and the built image id. A build error in the stream fails the result
// with the accumulated logs attached.
func (p *Provisioner) consumeBuildStream(body io.Reader) domain.BuildResult {
	var (
		logs    []string
		imageID string
	)
	dec := json.NewDecoder(body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return domain.BuildResult{
				Logs: logs,
				Err:  fmt.Errorf("%w: decode build output: %w", domain.ErrImageBuildFailed, err),
			}
		}
		if msg.Stream != "" {
			logs = append(logs, msg.Stream)
		}
		if msg.Error != nil {
			return domain.BuildResult{
				Logs: logs,
				Err:  fmt.Errorf("%w: %s", domain.ErrImageBuildFailed, msg.Error.Message),
			}
		}
		if msg.Aux != nil {
			var result types.BuildResult
			if err := json.Unmarshal(*msg.Aux, &result); err == nil && result.ID != "" {
				imageID = result.ID
			}
		}
	}
	return domain.BuildResult{Success: true, ImageID: imageID, Logs: logs}
}

// Ensure inspects first; if the image is absent it builds, then inspects
// again to confirm. Never builds when the image is already present.
func (p *Provisioner) Ensure(ctx context.Context) domain.InspectResult {
	ins := p.Inspect(ctx)
	if ins.Err != nil || ins.Exists {
		return ins
	}

	build := p.Build(ctx)
	if !build.Success {
		for _, line := range logTail(build.Logs, 20) {
			p.log.WithField("image", p.cfg.Image).Error(line)
		}
		return domain.InspectResult{Err: build.Err}
	}

	confirmed := p.Inspect(ctx)
	if confirmed.Err == nil && !confirmed.Exists {
		confirmed.Err = fmt.Errorf("%w: image %s missing after successful build", domain.ErrImageBuildFailed, p.cfg.Image)
	}
	return confirmed
}

// ensureContext makes sure the build context directory exists, shallow-cloning
// the template repository into it when configured.
func (p *Provisioner) ensureContext(ctx context.Context) error {
	if _, err := os.Stat(p.cfg.ContextDir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat build context: %w", err)
	}

	if p.cfg.TemplateRepo == "" {
		return fmt.Errorf("build context %s does not exist", p.cfg.ContextDir)
	}

	p.log.WithFields(logrus.Fields{
		"repo": p.cfg.TemplateRepo,
		"dir":  p.cfg.ContextDir,
	}).Info("Cloning build context template")
	_, err := git.PlainCloneContext(ctx, p.cfg.ContextDir, false, &git.CloneOptions{
		URL:   p.cfg.TemplateRepo,
		Depth: 1,
	})
	if err != nil {
		return fmt.Errorf("clone template repo: %w", err)
	}
	return nil
}

// logTail returns the last n entries of logs.
func logTail(logs []string, n int) []string {
	if len(logs) <= n {
		return logs
	}
	return logs[len(logs)-n:]
}
