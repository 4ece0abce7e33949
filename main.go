package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/profile"
	"github.com/rcowham/svn2gitfi/config"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/exporter"
	"github.com/rcowham/svn2gitfi/repository"
	"github.com/rcowham/svn2gitfi/rules"
	"github.com/rcowham/svn2gitfi/source"
	"github.com/warpfork/go-errcat"

	"github.com/perforce/p4prometheus/version"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

func Humanize(b int64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(b)/float64(div), "kMGTPE"[exp])
}

// ConvertOptions - everything a conversion run needs besides the source
type ConvertOptions struct {
	rulesFiles []string
	workDir    string
	resumeFrom int // 0 to continue from wherever the logs end
	maxRev     int // 0 for the youngest revision
	mode       repository.Mode
	debugRules bool
	stats      bool
	config     *config.Config
}

// SvnToGit - one conversion run
type SvnToGit struct {
	logger  *logrus.Logger
	opts    ConvertOptions
	engine  *rules.Engine
	repos   map[string]repository.Repository
	ordered []repository.Repository
	cache   *repository.ProcessCache
	stats   *exporter.ContentStats
}

func NewSvnToGit(logger *logrus.Logger, opts ConvertOptions) *SvnToGit {
	return &SvnToGit{logger: logger, opts: opts}
}

func (g *SvnToGit) loadRules() ([]*rules.Repository, error) {
	sets := make([]*rules.RuleSet, 0, len(g.opts.rulesFiles))
	for _, f := range g.opts.rulesFiles {
		rs, err := rules.LoadFile(f)
		if err != nil {
			return nil, err
		}
		g.logger.Infof("Loaded %d repositories and %d match rules from %s", len(rs.Repositories), len(rs.Matches), f)
		sets = append(sets, rs)
	}
	if len(sets) == 0 {
		return nil, errcat.Errorf(errkind.ErrConfig, "no rules files given")
	}
	g.engine = rules.NewEngine(g.logger, sets, g.opts.debugRules)
	return rules.Merge(sets)
}

// setupRepositories creates the repositories and replays their logs,
// returning the first revision to export
func (g *SvnToGit) setupRepositories(decls []*rules.Repository, repoOpts repository.Options) (int, error) {
	resumeFrom := g.opts.resumeFrom
	cutoff := math.MaxInt
	if resumeFrom > 0 {
		cutoff = resumeFrom
	}
	minRev := 1
setup:
	for {
		minRev = 1
		repos, ordered, err := repository.NewRepositories(g.logger, decls, repoOpts, g.cache)
		if err != nil {
			return 0, err
		}
		for _, repo := range ordered {
			next, err := repo.SetupIncremental(&cutoff)
			if err != nil {
				return 0, err
			}
			// A truncated log we cannot resume from is put back so the next run fails the same way
			if cutoff < resumeFrom && next == cutoff {
				if err := repo.RestoreLog(); err != nil {
					return 0, err
				}
			}
			if cutoff < minRev {
				// Rewound before the end of a repository already set up.
				// cutoff only decreases so this happens at most once.
				g.logger.Infof("Rewound to r%d, setting up repositories again", cutoff)
				continue setup
			}
			if minRev < next {
				minRev = next
			}
		}
		g.repos, g.ordered = repos, ordered
		break
	}
	if cutoff < resumeFrom {
		return 0, errcat.Errorf(errkind.ErrResume, "cannot resume from %d as there are errors in revision %d", resumeFrom, cutoff)
	}
	if resumeFrom > 0 {
		if minRev < resumeFrom {
			g.logger.Debugf("skipping revisions %d to %d as requested", minRev, resumeFrom-1)
		}
		minRev = resumeFrom
	}
	return minRev, nil
}

// Run converts src
func (g *SvnToGit) Run(src source.Source) error {
	cfg := g.opts.config
	decls, err := g.loadRules()
	if err != nil {
		return err
	}
	identities, err := config.LoadIdentityMapFile(cfg.IdentityMap)
	if err != nil {
		return err
	}
	fastImport, err := cfg.FastImportArgs()
	if err != nil {
		return err
	}
	repoOpts := repository.Options{
		WorkDir:        g.opts.workDir,
		Mode:           g.opts.mode,
		FastImportArgs: fastImport,
		CommitInterval: cfg.CommitInterval,
		CloseTimeout:   cfg.CloseTimeout,
		AddMetadata:    cfg.AddMetadata,
	}
	g.cache = repository.NewProcessCache(g.logger, cfg.MaxProcesses)

	minRev, err := g.setupRepositories(decls, repoOpts)
	if err != nil {
		g.cache.CloseAll()
		return err
	}
	exp, err := exporter.NewExporter(g.logger, src, g.engine, g.repos, g.ordered, exporter.Options{
		Identities:     identities,
		IdentityDomain: cfg.IdentityDomain,
		LogEncoding:    cfg.LogEncoding,
		DryRun:         g.opts.mode == repository.ModeDryRun,
		DebugRules:     g.opts.debugRules,
	})
	if err != nil {
		g.cache.CloseAll()
		return err
	}
	g.stats = exp.Stats

	maxRev := g.opts.maxRev
	if maxRev == 0 {
		if maxRev, err = src.Youngest(); err != nil {
			g.cache.CloseAll()
			return err
		}
	}
	g.logger.Infof("Exporting revisions %d to %d", minRev, maxRev)
	var result error
	for rev := minRev; rev <= maxRev; rev++ {
		if result = exp.ExportRevision(rev); result != nil {
			g.logger.Errorf("r%d: %v", rev, result)
			break
		}
	}

	for _, repo := range g.ordered {
		if err := repo.FinalizeTags(); err != nil && result == nil {
			result = err
		}
	}
	if g.opts.stats {
		g.engine.LogStats()
	}
	exp.Stats.Log(g.logger)
	if err := g.cache.CloseAll(); err != nil && result == nil {
		result = err
	}
	return result
}

func main() {
	var (
		svnrepo = kingpin.Arg(
			"svnrepo",
			"Path to the subversion repository to convert.",
		).Required().String()
		rulesFiles = kingpin.Flag(
			"rules",
			"Rules file, may be given more than once. Each is applied independently.",
		).Required().Strings()
		configFile = kingpin.Flag(
			"config",
			"YAML config file with defaults.",
		).String()
		workDir = kingpin.Flag(
			"workdir",
			"Directory in which repositories, logs and marks are created.",
		).Default(".").String()
		resumeFrom = kingpin.Flag(
			"resume-from",
			"Start with this revision, discarding anything converted from it onwards.",
		).Int()
		maxRev = kingpin.Flag(
			"max-rev",
			"Stop after this revision.",
		).Int()
		dryRun = kingpin.Flag(
			"dry-run",
			"Run the conversion without writing anything.",
		).Bool()
		createDump = kingpin.Flag(
			"create-dump",
			"Write fast-import streams to <repository>.fi instead of running git.",
		).Bool()
		addMetadata = kingpin.Flag(
			"add-metadata",
			"Append svn path and revision to commit and tag messages.",
		).Bool()
		identityMap = kingpin.Flag(
			"identity-map",
			"File mapping svn user names to 'Full Name <email>'.",
		).String()
		identityDomain = kingpin.Flag(
			"identity-domain",
			"Email domain for svn users not in the identity map.",
		).String()
		commitInterval = kingpin.Flag(
			"commit-interval",
			"Commits between fast-import checkpoints.",
		).Int()
		debugRules = kingpin.Flag(
			"debug-rules",
			"Log how each path is matched.",
		).Bool()
		stats = kingpin.Flag(
			"stats",
			"Log how often each rule matched.",
		).Bool()
		profileCPU = kingpin.Flag(
			"profile",
			"Write a CPU profile to the work dir.",
		).Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("svn2gitfi")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Converts a subversion repository into one or more git repositories as directed by rules files\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 || *debugRules {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("svn2gitfi"))
	logger.Infof("Starting %s, svnrepo: %v", startTime, *svnrepo)

	exitOn := func(err error) {
		logger.Errorf("%v", err)
		os.Exit(int(errkind.Exit(err)))
	}

	cfg, err := config.Unmarshal([]byte{})
	if *configFile != "" {
		cfg, err = config.LoadConfigFile(*configFile)
	}
	if err != nil {
		exitOn(err)
	}
	if *identityMap != "" {
		cfg.IdentityMap = *identityMap
	}
	if *identityDomain != "" {
		cfg.IdentityDomain = *identityDomain
	}
	if *commitInterval > 0 {
		cfg.CommitInterval = *commitInterval
	}
	if *addMetadata {
		cfg.AddMetadata = true
	}
	logger.Debugf("Config: %s", cfg)

	dir, err := homedir.Expand(*workDir)
	if err != nil {
		exitOn(errcat.Errorf(errkind.ErrConfig, "failed to expand %s: %v", *workDir, err))
	}
	repoPath, err := homedir.Expand(*svnrepo)
	if err != nil {
		exitOn(errcat.Errorf(errkind.ErrConfig, "failed to expand %s: %v", *svnrepo, err))
	}
	if *profileCPU {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(dir)).Stop()
	}
	opts := ConvertOptions{
		rulesFiles: *rulesFiles,
		workDir:    dir,
		resumeFrom: *resumeFrom,
		maxRev:     *maxRev,
		mode:       repository.ModeGit,
		debugRules: *debugRules,
		stats:      *stats,
		config:     cfg,
	}
	if *createDump {
		opts.mode = repository.ModeDump
	}
	if *dryRun {
		opts.mode = repository.ModeDryRun
	}
	if err := os.MkdirAll(filepath.Clean(dir), 0755); err != nil {
		exitOn(errcat.Errorf(errkind.ErrConfig, "failed to create %s: %v", dir, err))
	}

	g := NewSvnToGit(logger, opts)
	err = g.Run(source.NewSvnLook(logger, repoPath))
	if g.stats != nil {
		var total int64
		for _, b := range g.stats.Bytes {
			total += b
		}
		logger.Infof("Exported %s of file content", Humanize(total))
	}
	logger.Infof("Completed in %v", time.Since(startTime))
	if err != nil {
		exitOn(err)
	}
}
