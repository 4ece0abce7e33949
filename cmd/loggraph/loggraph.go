package main

// loggraph program
// This processes a protocol log (log-<repository>) or a fast-import dump (<repository>.fi)
// written by svn2gitfi and writes:
//   * a graph file (graphviz dot format) showing commits, branch points and merges

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emicklei/dot"
	"github.com/pkg/errors"
	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/rcowham/svn2gitfi/journal"

	"github.com/perforce/p4prometheus/version"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

const nullSha = "0000000000000000000000000000000000000000"

type GraphOption struct {
	logFile    string
	graphFile  string
	firstRev   int
	lastRev    int
	maxCommits int
	squash     bool
}

// GraphCommit - a commit found in the log
type GraphCommit struct {
	mark        int
	rev         int // 0 until its progress record is seen
	branch      string
	parent      int // Implicit parent: the tip of the branch when committed
	merges      []int
	childCount  int
	mergeCount  int
	branchCount int // Number of branches created from this commit
	hasNode     bool
	gNode       dot.Node
}

func (gc *GraphCommit) label() string {
	return fmt.Sprintf("r%d %s :%d", gc.rev, gc.branch, gc.mark)
}

// branchPoint - a reset of a branch to an existing commit
type branchPoint struct {
	branch string
	mark   int
	rev    int
}

// LogGraph - graph of one repository's conversion
type LogGraph struct {
	logger       *logrus.Logger
	opts         GraphOption
	commits      map[int]*GraphCommit
	tips         map[string]int // ref -> mark, as fast-import would have them
	branchPoints []*branchPoint
	graph        *dot.Graph
}

func NewLogGraph(logger *logrus.Logger, opts *GraphOption) *LogGraph {
	return &LogGraph{logger: logger,
		opts:    *opts,
		commits: make(map[int]*GraphCommit),
		tips:    make(map[string]int),
		graph:   dot.NewGraph(dot.Directed)}
}

func branchName(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

// markNumber parses ":N", returning 0 for anything else
func markNumber(commitish string) int {
	if !strings.HasPrefix(commitish, ":") {
		return 0
	}
	n, err := strconv.Atoi(commitish[1:])
	if err != nil {
		return 0
	}
	return n
}

// ParseLog reads fast-import commands, tracking branch tips the way fast-import does
func (g *LogGraph) ParseLog(r io.Reader) error {
	var pending *branchPoint
	f := libfastimport.NewFrontend(r, nil, nil)
CmdLoop:
	for {
		cmd, err := f.ReadCmd()
		if err != nil {
			if err == io.EOF {
				break
			}
			return errors.Wrap(err, "failed to read command")
		}
		switch c := cmd.(type) {
		case libfastimport.CmdCommit:
			pending = nil
			gc := &GraphCommit{mark: c.Mark, branch: branchName(c.Ref)}
			if tip, ok := g.tips[c.Ref]; ok {
				gc.parent = tip
				if parent := g.commits[tip]; parent != nil {
					parent.childCount++
				}
			}
			for _, m := range c.Merge {
				n := markNumber(m)
				if n == 0 {
					continue
				}
				gc.merges = append(gc.merges, n)
				if mergeFrom := g.commits[n]; mergeFrom != nil {
					mergeFrom.mergeCount++
				}
			}
			g.logger.Debugf("Commit: %d on %s parent %d merges %v", gc.mark, gc.branch, gc.parent, gc.merges)
			g.commits[c.Mark] = gc
			g.tips[c.Ref] = c.Mark
			if g.opts.maxCommits != 0 && len(g.commits) >= g.opts.maxCommits {
				break CmdLoop
			}
		case libfastimport.CmdReset:
			pending = nil
			switch {
			case markNumber(c.CommitIsh) != 0:
				mark := markNumber(c.CommitIsh)
				g.tips[c.RefName] = mark
				pending = &branchPoint{branch: branchName(c.RefName), mark: mark}
			case c.CommitIsh == "" || c.CommitIsh == nullSha:
				delete(g.tips, c.RefName)
			default:
				// Backup of another ref
				if tip, ok := g.tips[c.CommitIsh]; ok {
					g.tips[c.RefName] = tip
				}
			}
		case libfastimport.CmdProgress:
			p, ok := journal.ParseProgress("progress " + c.Str)
			if !ok {
				pending = nil
				continue
			}
			if pending != nil && pending.branch == p.Branch && pending.mark == p.Mark {
				pending.rev = p.Rev
				g.branchPoints = append(g.branchPoints, pending)
				if from := g.commits[p.Mark]; from != nil {
					from.branchCount++
				}
			} else if gc := g.commits[p.Mark]; gc != nil && gc.rev == 0 {
				gc.rev = p.Rev
			}
			pending = nil
		default:
		}
	}
	return nil
}

func (g *LogGraph) inRange(rev int) bool {
	return (g.opts.firstRev == 0 || rev >= g.opts.firstRev) &&
		(g.opts.lastRev == 0 || rev <= g.opts.lastRev)
}

func (g *LogGraph) node(gc *GraphCommit) dot.Node {
	if !gc.hasNode {
		gc.gNode = g.graph.Node(gc.label())
		gc.hasNode = true
	}
	return gc.gNode
}

// BuildGraph creates graph nodes as appropriate. When squashing only
// commits that start, end, split or join branches are kept.
func (g *LogGraph) BuildGraph() {
	tipMarks := make(map[int]bool)
	for _, mark := range g.tips {
		tipMarks[mark] = true
	}
	keys := make([]int, 0, len(g.commits))
	for k := range g.commits {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	lastBranchCommit := make(map[string]int) // Last kept commit per branch
	branchSkipCount := make(map[string]int)  // How many have been skipped per branch
	for _, k := range keys {
		gc := g.commits[k]
		if !g.inRange(gc.rev) {
			continue
		}
		parent := g.commits[gc.parent]
		if g.opts.squash &&
			parent != nil && parent.branch == gc.branch &&
			len(gc.merges) == 0 &&
			gc.mergeCount == 0 &&
			gc.childCount < 2 &&
			gc.branchCount == 0 &&
			!tipMarks[gc.mark] {
			branchSkipCount[gc.branch]++
			continue
		}
		g.node(gc)
		if parent != nil {
			from := parent
			if last, ok := lastBranchCommit[gc.branch]; ok && parent.branch == gc.branch {
				from = g.commits[last]
			}
			label := "p"
			if skipped := branchSkipCount[gc.branch]; skipped > 0 {
				label = fmt.Sprintf("p%d", skipped)
			}
			g.graph.Edge(g.node(from), gc.gNode, label)
		}
		for _, m := range gc.merges {
			if mergeFrom := g.commits[m]; mergeFrom != nil {
				g.graph.Edge(g.node(mergeFrom), gc.gNode, "m")
			}
		}
		lastBranchCommit[gc.branch] = gc.mark
		branchSkipCount[gc.branch] = 0
	}

	for _, bp := range g.branchPoints {
		from := g.commits[bp.mark]
		if from == nil || !g.inRange(bp.rev) {
			continue
		}
		n := g.graph.Node(fmt.Sprintf("r%d branch %s", bp.rev, bp.branch)).Attr("shape", "box")
		g.graph.Edge(g.node(from), n, "b")
	}
}

func (g *LogGraph) String() string {
	return g.graph.String()
}

func main() {
	var (
		logFile = kingpin.Arg(
			"log",
			"Protocol log or fast-import dump to process.",
		).Required().String()
		maxCommits = kingpin.Flag(
			"max.commits",
			"Max no of commits to process (default 0 means all).",
		).Default("0").Short('m').Int()
		outputGraph = kingpin.Flag(
			"output",
			"Graphviz dot file to output commit structure to.",
		).Short('o').Required().String()
		firstRev = kingpin.Flag(
			"first.rev",
			"First svn revision to include in graph output (default 0 means all).",
		).Default("0").Short('f').Int()
		lastRev = kingpin.Flag(
			"last.rev",
			"Last svn revision to include in graph output (default 0 means all).",
		).Default("0").Short('l').Int()
		squash = kingpin.Flag(
			"squash",
			"Squash commits (leaving branches/merges only).",
		).Short('s').Bool()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("loggraph")).Author("Robert Cowham")
	kingpin.CommandLine.Help = "Parses a svn2gitfi protocol log to create a graphviz DOT file\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("loggraph"))
	logger.Infof("Starting %s, log: %v", startTime, *logFile)

	opts := &GraphOption{
		logFile:    *logFile,
		maxCommits: *maxCommits,
		graphFile:  *outputGraph,
		firstRev:   *firstRev,
		lastRev:    *lastRev,
		squash:     *squash,
	}
	logger.Infof("Options: %+v", opts)
	logger.Infof("OS: %s/%s", runtime.GOOS, runtime.GOARCH)
	g := NewLogGraph(logger, opts)
	file, err := os.Open(opts.logFile)
	if err != nil {
		logger.Errorf("Failed to open file '%s': %v", opts.logFile, err)
		os.Exit(1)
	}
	err = g.ParseLog(file)
	file.Close()
	if err != nil {
		logger.Errorf("Failed to parse '%s': %v", opts.logFile, err)
		os.Exit(1)
	}
	g.BuildGraph()
	if err := os.WriteFile(opts.graphFile, []byte(g.String()), 0644); err != nil {
		logger.Errorf("Failed to write '%s': %v", opts.graphFile, err)
		os.Exit(1)
	}
	logger.Infof("Wrote %d commits to %s in %v", len(g.commits), opts.graphFile, time.Since(startTime))
}
