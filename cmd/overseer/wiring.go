package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bobain/overseer/pkg/agents"
	"github.com/bobain/overseer/pkg/config"
	"github.com/bobain/overseer/pkg/health"
	"github.com/bobain/overseer/pkg/llm"
	"github.com/bobain/overseer/pkg/log"
	"github.com/bobain/overseer/pkg/messagebus"
	"github.com/bobain/overseer/pkg/registry"
	"github.com/bobain/overseer/pkg/roadmap"
	"github.com/bobain/overseer/pkg/role"
	"github.com/bobain/overseer/pkg/specstore"
	"github.com/bobain/overseer/pkg/startup"
	"github.com/bobain/overseer/pkg/statusbus"
	"github.com/bobain/overseer/pkg/vcs"
	"github.com/bobain/overseer/pkg/workstore"
)

// deps bundles the process-external state every agent process opens at
// startup. The supervisor creates the work store and record schemas at
// startup; the constructors called here (registry.New, statusbus.New,
// messagebus.New) also create any missing directory, and specstore.Open
// in buildBehavior creates its table if it is missing.
type deps struct {
	cfg      config.Config
	registry *registry.Registry
	status   *statusbus.Bus
	bus      *messagebus.Bus
}

func openDeps(path string) (*deps, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(cfg.RegistryDir)
	if err != nil {
		return nil, err
	}
	status, err := statusbus.New(cfg.StatusDir)
	if err != nil {
		return nil, err
	}
	bus, err := messagebus.New(cfg.MessageDir)
	if err != nil {
		return nil, err
	}

	return &deps{cfg: cfg, registry: reg, status: status, bus: bus}, nil
}

func newLLMClient(cfg config.Config) llm.Client {
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	return llm.NewAnthropicClient(apiKey, cfg.LLM.Model)
}

// buildBehavior constructs the Behavior for r with its dependencies
// wired. The closed set of roles is dispatched here, once, at startup.
func buildBehavior(d *deps, r role.Role) (role.Behavior, error) {
	cfg := d.cfg
	git := vcs.New(".")
	reader := roadmap.New(cfg.RoadmapPath)
	client := newLLMClient(cfg)

	switch r {
	case role.Architect:
		specs, err := specstore.Open(cfg.SpecStorePath)
		if err != nil {
			return nil, err
		}
		return agents.NewArchitect(git, reader, specs, client, d.bus, cfg.WorkBranch), nil

	case role.CodeDeveloper:
		specs, err := specstore.Open(cfg.SpecStorePath)
		if err != nil {
			return nil, err
		}
		dev := agents.NewCodeDeveloper(git, reader, specs, client, d.bus, cfg.WorkBranch, cfg.TestCommand, cfg.MaxRetriesPerItem)
		if cfg.WorkMode == config.WorkModeWorkStore {
			work, err := workstore.Open(cfg.WorkStorePath)
			if err != nil {
				return nil, err
			}
			claimant := fmt.Sprintf("%s-%d", role.CodeDeveloper, os.Getpid())
			dev.WithWorkStore(work, specs.AsSpecFinder(), claimant, cfg.PriorityNumber)
		}
		return dev, nil

	case role.ProjectManager:
		return agents.NewProjectManager(reader, logNotifier{}, d.bus), nil

	case role.Assistant:
		return agents.NewAssistant(client, fileBugTracker{dir: ".overseer/bugs"}, d.bus), nil

	case role.CodeSearcher:
		return agents.NewCodeSearcher(".", client, d.bus), nil

	case role.UXDesignExpert:
		return agents.NewUXDesignExpert(reader, client, d.bus), nil

	default:
		return nil, fmt.Errorf("no behavior for role %q", r)
	}
}

// buildStartupSkill assembles the bounded startup checks for r: the
// required tools and files the role depends on, plus LLM API
// reachability for roles that call the model.
func buildStartupSkill(cfg config.Config, r role.Role) *startup.Skill {
	checks := map[string]health.Checker{
		"status_dir":  health.NewFileChecker(cfg.StatusDir).AsDir(),
		"message_dir": health.NewFileChecker(cfg.MessageDir).AsDir(),
	}

	switch r {
	case role.Architect, role.CodeDeveloper:
		checks["git"] = health.NewExecChecker([]string{"git", "--version"})
		checks["roadmap"] = health.NewFileChecker(cfg.RoadmapPath)
		checks["llm_api"] = llmReachabilityCheck(cfg)
	case role.ProjectManager:
		checks["roadmap"] = health.NewFileChecker(cfg.RoadmapPath)
	case role.UXDesignExpert:
		checks["roadmap"] = health.NewFileChecker(cfg.RoadmapPath)
		checks["llm_api"] = llmReachabilityCheck(cfg)
	case role.Assistant, role.CodeSearcher:
		checks["llm_api"] = llmReachabilityCheck(cfg)
	}

	return startup.New(r, checks, nil)
}

// llmReachabilityCheck probes the API host for reachability only: any
// HTTP answer below 500, including an auth error, proves the network
// path; a 5xx answer counts as unhealthy.
func llmReachabilityCheck(cfg config.Config) health.Checker {
	return health.NewHTTPChecker("https://api.anthropic.com/v1/messages").
		WithMethod("HEAD").
		WithStatusRange(200, 499)
}

// logNotifier satisfies agents.Notifier by writing notifications to the
// structured log; deployments with a chat or issue-tracker integration
// substitute their own adapter here.
type logNotifier struct{}

func (logNotifier) Notify(ctx context.Context, subject, body string) error {
	logger := log.WithComponent("notifier")
	logger.Info().Str("subject", subject).Msg(body)
	return nil
}

// fileBugTracker satisfies agents.BugTracker by appending one markdown
// file per bug under dir, named by timestamp.
type fileBugTracker struct {
	dir string
}

func (f fileBugTracker) FileBug(ctx context.Context, title, body string) (string, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("bug tracker: create dir: %w", err)
	}
	path := fmt.Sprintf("%s/bug-%d.md", f.dir, time.Now().UnixNano())
	content := fmt.Sprintf("# %s\n\n%s\n", title, body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("bug tracker: write: %w", err)
	}
	return path, nil
}
