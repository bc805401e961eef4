package indexer

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
)

// RuleKind identifies one of the five composable rule shapes of the
// IndexerRuler.
type RuleKind int

const (
	RuleAcceptGlob RuleKind = iota
	RuleRejectGlob
	RuleAcceptIfContainsChild
	RuleRejectIfContainsChild
	RuleHonourGitignore
)

// Rule is one clause of an IndexerRuler. Only the fields relevant to Kind
// are populated: Pattern for the two glob kinds, ChildName for the two
// contains-child kinds.
type Rule struct {
	Kind      RuleKind
	Pattern   string
	ChildName string
}

// Decision is the outcome of evaluating a path against an IndexerRuler.
type Decision int

const (
	Accept Decision = iota
	Reject
)

// IndexerRuler is a composable accept/reject decision function over
// (path, metadata). A path is rejected if any reject-by-glob matches, or
// gitignore matches, or (for directories) any reject-by-children matches,
// or an accept-by-glob rule set is present and none match; otherwise
// accepted.
type IndexerRuler struct {
	rules  []Rule
	logger *slog.Logger

	gitignoreEnabled bool

	mu              gosync.Mutex
	gitignoreCache  map[string]*ignore.GitIgnore // dir -> composed matcher, nil = no patterns found
}

// NewIndexerRuler builds a ruler from toggles (§4.1.1 built-in toggles) plus
// any caller-supplied extra rules.
func NewIndexerRuler(logger *slog.Logger, toggles RuleToggles, extra ...Rule) *IndexerRuler {
	r := &IndexerRuler{
		logger:         logger,
		gitignoreCache: make(map[string]*ignore.GitIgnore),
	}

	r.rules = append(r.rules, builtinRules(toggles)...)
	r.rules = append(r.rules, extra...)

	for _, rule := range r.rules {
		if rule.Kind == RuleHonourGitignore {
			r.gitignoreEnabled = true
		}
	}

	return r
}

// RuleToggles enables platform-appropriate built-in ignore rules (§4.1
// Configuration: rule_toggles).
type RuleToggles struct {
	SkipSystemFiles  bool // Windows system files, macOS .DS_Store, Unix /dev
	SkipHidden       bool // dotfiles
	SkipDevDirs      bool // node_modules, .git, target, vendor, ...
	HonourGitignore  bool
	OnlyImages       bool
}

// DefaultRuleToggles returns the conservative defaults a fresh location scan
// starts with.
func DefaultRuleToggles() RuleToggles {
	return RuleToggles{
		SkipSystemFiles: true,
		SkipHidden:      true,
		SkipDevDirs:     true,
		HonourGitignore: true,
	}
}

var devDirNames = []string{"node_modules", ".git", "target", "vendor", "__pycache__", ".cache", ".next", "dist", "build"}

var systemFileGlobs = []string{"**/.DS_Store", "**/Thumbs.db", "**/desktop.ini", "**/$RECYCLE.BIN"}

func builtinRules(t RuleToggles) []Rule {
	var rules []Rule

	if t.SkipSystemFiles {
		for _, pattern := range systemFileGlobs {
			rules = append(rules, Rule{Kind: RuleRejectGlob, Pattern: pattern})
		}
	}

	if t.SkipHidden {
		rules = append(rules, Rule{Kind: RuleRejectGlob, Pattern: "**/.*"})
	}

	if t.SkipDevDirs {
		for _, name := range devDirNames {
			rules = append(rules, Rule{Kind: RuleRejectGlob, Pattern: "**/" + name})
		}
	}

	if t.HonourGitignore {
		rules = append(rules, Rule{Kind: RuleHonourGitignore})
	}

	if t.OnlyImages {
		rules = append(rules, Rule{Kind: RuleAcceptGlob, Pattern: "**/*.{jpg,jpeg,png,gif,webp,heic,bmp,tiff,svg}"})
	}

	return rules
}

// Evaluate decides Accept or Reject for path (absolute, slash-normalized by
// the caller), given its directory children when isDir (used by the
// contains-child rules).
func (r *IndexerRuler) Evaluate(path string, isDir bool, dirChildNames []string) Decision {
	matchPath := filepath.ToSlash(path)

	hasAcceptGlob := false
	acceptGlobMatched := false

	for _, rule := range r.rules {
		switch rule.Kind {
		case RuleAcceptGlob:
			hasAcceptGlob = true

			if ok, _ := doublestar.Match(rule.Pattern, matchPath); ok {
				acceptGlobMatched = true
			}

		case RuleRejectGlob:
			if ok, _ := doublestar.Match(rule.Pattern, matchPath); ok {
				r.logger.Debug("path rejected by glob", "path", path, "pattern", rule.Pattern)
				return Reject
			}

		case RuleRejectIfContainsChild:
			if isDir && containsChild(dirChildNames, rule.ChildName) {
				r.logger.Debug("directory rejected by child marker", "path", path, "child", rule.ChildName)
				return Reject
			}

		case RuleAcceptIfContainsChild:
			if isDir && containsChild(dirChildNames, rule.ChildName) {
				hasAcceptGlob = true
				acceptGlobMatched = true
			}
		}
	}

	if r.gitignoreEnabled && r.matchesGitignore(path, isDir) {
		r.logger.Debug("path rejected by gitignore", "path", path)
		return Reject
	}

	if hasAcceptGlob && !acceptGlobMatched {
		return Reject
	}

	return Accept
}

func containsChild(children []string, name string) bool {
	for _, c := range children {
		if c == name {
			return true
		}
	}

	return false
}

// matchesGitignore walks ancestors of path looking for .gitignore and
// .git/info/exclude, composing their patterns (§4.1.1 rule 5). Per-directory
// matchers are cached since the same directory is consulted for every
// sibling.
func (r *IndexerRuler) matchesGitignore(path string, isDir bool) bool {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		gi := r.loadGitignore(dir)
		rel, err := filepath.Rel(dir, path)

		if gi != nil && err == nil {
			matchPath := filepath.ToSlash(rel)
			if isDir {
				matchPath += "/"
			}

			if gi.MatchesPath(matchPath) {
				return true
			}
		}

		if filepath.Dir(dir) == dir {
			return false
		}
	}
}

func (r *IndexerRuler) loadGitignore(dir string) *ignore.GitIgnore {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gi, ok := r.gitignoreCache[dir]; ok {
		return gi
	}

	var lines []string

	if data, err := os.ReadFile(filepath.Join(dir, ".gitignore")); err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	}

	if data, err := os.ReadFile(filepath.Join(dir, ".git", "info", "exclude")); err == nil {
		lines = append(lines, strings.Split(string(data), "\n")...)
	}

	var gi *ignore.GitIgnore
	if len(lines) > 0 {
		gi = ignore.CompileIgnoreLines(lines...)
	}

	r.gitignoreCache[dir] = gi

	return gi
}
