// Package action runs the post-selection steps on a message: opening links,
// saving attachments or the whole message, and running or opening saved
// attachments.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/dhcgn/mailclient/message"
	"github.com/dhcgn/mailclient/model"
)

var ErrUnknownAction = errors.New("unknown action")

// Mode selects whether every requested action runs or a single random one.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeRandom Mode = "random"
)

var linkPattern = regexp.MustCompile(`https?://[^\s"<>]+`)

type Options struct {
	Actions     []model.Action
	Mode        Mode
	DownloadDir string
	// ExecutePath, when set, is where exec moves attachments before running them.
	ExecutePath string
	Launcher    Launcher
	Rand        *rand.Rand
}

type Pipeline struct {
	actions     []model.Action
	mode        Mode
	downloadDir string
	executePath string
	launcher    Launcher
	rng         *rand.Rand
	logger      *slog.Logger
}

// New validates opts. Duplicate actions are collapsed, keeping the first.
func New(opts Options, logger *slog.Logger) (*Pipeline, error) {
	mode := opts.Mode
	switch mode {
	case "":
		mode = ModeAll
	case ModeAll, ModeRandom:
	default:
		return nil, fmt.Errorf("invalid action mode %q", opts.Mode)
	}

	var actions []model.Action
	for _, a := range opts.Actions {
		if !slices.Contains(model.Actions, a) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a)
		}
		if !slices.Contains(actions, a) {
			actions = append(actions, a)
		}
	}

	downloadDir := opts.DownloadDir
	if downloadDir == "" {
		downloadDir = "downloads"
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = SystemLauncher{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Pipeline{
		actions:     actions,
		mode:        mode,
		downloadDir: downloadDir,
		executePath: opts.ExecutePath,
		launcher:    launcher,
		rng:         opts.Rand,
		logger:      logger,
	}, nil
}

// Empty reports whether no action was requested.
func (p *Pipeline) Empty() bool { return len(p.actions) == 0 }

// Perform runs the configured actions on rec in order. A failing action is
// logged and recorded; the remaining actions still run.
func (p *Pipeline) Perform(ctx context.Context, rec model.MessageRecord) []model.ActionOutcome {
	actions := p.actions
	if p.mode == ModeRandom && len(actions) > 1 {
		actions = []model.Action{actions[p.intN(len(actions))]}
	}

	outcomes := make([]model.ActionOutcome, 0, len(actions))
	for _, a := range actions {
		if ctx.Err() != nil {
			break
		}
		items, err := p.run(ctx, a, rec)
		outcome := model.ActionOutcome{Action: a, OK: err == nil, Items: items}
		if err != nil {
			outcome.Err = err.Error()
			p.logger.Error("action failed", "action", a, "id", rec.ID, "subject", rec.Subject, "err", err)
		} else {
			p.logger.Info("action performed", "action", a, "id", rec.ID, "items", len(items))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (p *Pipeline) intN(n int) int {
	if p.rng == nil {
		return rand.IntN(n)
	}
	return p.rng.IntN(n)
}

func (p *Pipeline) run(ctx context.Context, a model.Action, rec model.MessageRecord) ([]string, error) {
	switch a {
	case model.ActionNavigate:
		return p.navigate(rec)
	case model.ActionDownloadAttachments:
		return p.downloadAttachments(rec)
	case model.ActionDownloadMail:
		path, err := p.downloadMail(rec)
		if err != nil {
			return nil, err
		}
		return []string{path}, nil
	case model.ActionExec:
		return p.exec(ctx, rec)
	case model.ActionOpen:
		return p.open(rec)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, a)
}

// Links returns the http(s) URLs in text, de-duplicated in first-seen order.
func Links(text string) []string {
	var links []string
	for _, link := range linkPattern.FindAllString(text, -1) {
		if !slices.Contains(links, link) {
			links = append(links, link)
		}
	}
	return links
}

func (p *Pipeline) navigate(rec model.MessageRecord) ([]string, error) {
	links := Links(rec.BodyText())
	if len(links) == 0 {
		p.logger.Info("no links found in message", "id", rec.ID)
		return nil, nil
	}

	var (
		opened []string
		errs   []error
	)
	for _, link := range links {
		if err := p.launcher.OpenURL(link); err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", link, err))
			continue
		}
		p.logger.Info("link opened", "url", link)
		opened = append(opened, link)
	}
	return opened, errors.Join(errs...)
}

func (p *Pipeline) downloadAttachments(rec model.MessageRecord) ([]string, error) {
	attachments, err := message.Attachments(rec.Raw)
	if err != nil {
		return nil, fmt.Errorf("read attachments: %w", err)
	}
	if len(attachments) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(p.downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	var (
		saved []string
		errs  []error
	)
	for _, att := range attachments {
		name := safeName(att.Filename)
		if name == "" {
			continue
		}
		path := filepath.Join(p.downloadDir, name)
		if err := os.WriteFile(path, att.Data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", name, err))
			continue
		}
		p.logger.Info("attachment downloaded", "path", path)
		saved = append(saved, path)
	}
	return saved, errors.Join(errs...)
}

// MailFilename is the file name download-mail uses for a subject.
func MailFilename(subject string) string {
	name := strings.TrimSpace(subject)
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "no-subject"
	}
	return name + ".eml"
}

func (p *Pipeline) downloadMail(rec model.MessageRecord) (string, error) {
	if err := os.MkdirAll(p.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(p.downloadDir, MailFilename(rec.Subject))
	if err := os.WriteFile(path, rec.Raw, 0o644); err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}
	p.logger.Info("message saved", "path", path)
	return path, nil
}

// exec saves the attachments, optionally moves them to the execute path,
// marks them executable and runs each one. A file that fails does not stop
// the others.
func (p *Pipeline) exec(ctx context.Context, rec model.MessageRecord) ([]string, error) {
	saved, err := p.downloadAttachments(rec)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}

	var executed []string
	for _, path := range saved {
		target, err := p.prepare(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := p.launcher.Execute(ctx, target); err != nil {
			errs = append(errs, fmt.Errorf("execute %s: %w", target, err))
			continue
		}
		p.logger.Info("file executed", "path", target)
		executed = append(executed, target)
	}
	return executed, errors.Join(errs...)
}

func (p *Pipeline) prepare(path string) (string, error) {
	target := path
	if p.executePath != "" {
		if err := os.MkdirAll(p.executePath, 0o755); err != nil {
			return "", fmt.Errorf("create execute path: %w", err)
		}
		target = filepath.Join(p.executePath, filepath.Base(path))
		if err := os.Rename(path, target); err != nil {
			return "", fmt.Errorf("move %s: %w", path, err)
		}
		p.logger.Info("moved file to execution path", "path", target)
	}

	fi, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if fi.Mode().Perm()&0o111 == 0 {
		p.logger.Info("setting execute permissions", "path", target)
		if err := os.Chmod(target, 0o755); err != nil {
			return "", fmt.Errorf("chmod %s: %w", target, err)
		}
	}
	return target, nil
}

func (p *Pipeline) open(rec model.MessageRecord) ([]string, error) {
	saved, err := p.downloadAttachments(rec)
	var errs []error
	if err != nil {
		errs = append(errs, err)
	}

	var opened []string
	for _, path := range saved {
		if err := p.launcher.OpenFile(path); err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", path, err))
			continue
		}
		p.logger.Info("file opened", "path", path)
		opened = append(opened, path)
	}
	return opened, errors.Join(errs...)
}

func safeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
