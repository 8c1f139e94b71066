package planstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/memoryd/pkg/models"
)

// activePlanMarker is the {plan_path, status} JSON written to
// <dataDir>/sessions/<pilotSessionID>/active_plan.json.
type activePlanMarker struct {
	PlanPath string `json:"plan_path"`
	Status   string `json:"status"`
}

// ErrPathTraversal is returned when a requested plan path resolves outside
// <projectRoot>/docs/plans/ or does not end in .md.
var ErrPathTraversal = errors.New("planstore: path escapes the plans directory")

var (
	statusHeaderRe     = regexp.MustCompile(`(?m)^Status:\s*(.+)$`)
	approvedHeaderRe   = regexp.MustCompile(`(?m)^Approved:\s*(.+)$`)
	iterationsHeaderRe = regexp.MustCompile(`(?m)^Iterations:\s*(.+)$`)
	taskDoneRe         = regexp.MustCompile(`(?m)^\s*-\s*\[x\]\s*Task\s+\d+:`)
	taskPendingRe      = regexp.MustCompile(`(?m)^\s*-\s*\[\s\]\s*Task\s+\d+:`)
)

// plansDir returns <projectRoot>/docs/plans.
func plansDir(projectRoot string) string {
	return filepath.Join(projectRoot, "docs", "plans")
}

// PlansDir is plansDir's exported form, for callers outside this package
// that need the directory a project's plan files live under without
// resolving a specific file within it (e.g. a filesystem watcher).
func PlansDir(projectRoot string) string {
	return plansDir(projectRoot)
}

// ResolvePlanPath resolves requested (relative to <projectRoot>/docs/plans)
// against the project's plans directory and enforces the path-traversal
// rule: the resolved absolute path must be a descendant of the plans
// directory and end in .md.
func ResolvePlanPath(projectRoot, requested string) (string, error) {
	dir := plansDir(projectRoot)
	resolvedDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	candidate := requested
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(resolvedDir, requested)
	}
	resolved, err := filepath.Abs(candidate)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(resolvedDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrPathTraversal
	}
	if filepath.Ext(resolved) != ".md" {
		return "", ErrPathTraversal
	}
	return resolved, nil
}

// ParsePlanHeader regex-parses a plan file's Status/Approved/Iterations
// headers and its `- [x] Task N:` / `- [ ] Task N:` checklist counts.
func ParsePlanHeader(content string) (status, approved, iterations string, tasksDone, tasksTotal int) {
	if m := statusHeaderRe.FindStringSubmatch(content); m != nil {
		status = m[1]
	}
	if m := approvedHeaderRe.FindStringSubmatch(content); m != nil {
		approved = m[1]
	}
	if m := iterationsHeaderRe.FindStringSubmatch(content); m != nil {
		iterations = m[1]
	}
	tasksDone = len(taskDoneRe.FindAllString(content, -1))
	tasksTotal = tasksDone + len(taskPendingRe.FindAllString(content, -1))
	return
}

// ListPlanFiles discovers every *.md file under <projectRoot>/docs/plans,
// parsing each one's header. Returns an empty slice (not an error) if the
// directory does not exist.
func ListPlanFiles(projectRoot string) ([]models.PlanFile, error) {
	dir := plansDir(projectRoot)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.PlanFile{}, nil
		}
		return nil, fmt.Errorf("list plans: %w", err)
	}

	out := make([]models.PlanFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		relPath := filepath.Join("docs", "plans", entry.Name())
		plan, err := readPlanFileAt(filepath.Join(dir, entry.Name()), relPath)
		if err != nil {
			continue
		}
		out = append(out, plan)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedEpoch > out[j].ModifiedEpoch })
	return out, nil
}

func readPlanFileAt(absPath, displayPath string) (models.PlanFile, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return models.PlanFile{}, err
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return models.PlanFile{}, err
	}
	status, approved, iterations, tasksDone, tasksTotal := ParsePlanHeader(string(content))
	return models.PlanFile{
		Path:          displayPath,
		Status:        status,
		Approved:      approved,
		Iterations:    iterations,
		TasksDone:     tasksDone,
		TasksTotal:    tasksTotal,
		ModifiedEpoch: info.ModTime().UnixMilli(),
	}, nil
}

// ReadPlanFile resolves and parses one plan file's header.
func ReadPlanFile(projectRoot, requested string) (models.PlanFile, error) {
	resolved, err := ResolvePlanPath(projectRoot, requested)
	if err != nil {
		return models.PlanFile{}, err
	}
	return readPlanFileAt(resolved, requested)
}

// ReadPlanFileContent resolves and returns one plan file's raw Markdown.
func ReadPlanFileContent(projectRoot, requested string) (string, error) {
	resolved, err := ResolvePlanPath(projectRoot, requested)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// DeletePlanFile resolves and removes one plan file.
func DeletePlanFile(projectRoot, requested string) error {
	resolved, err := ResolvePlanPath(projectRoot, requested)
	if err != nil {
		return err
	}
	return os.Remove(resolved)
}

// ActivePlan reads <dataDir>/sessions/<pilotSessionID>/active_plan.json and
// resolves the plan it names against projectRoot. Returns (nil, nil) if the
// marker file does not exist or its contents are not valid JSON; a pilot
// session between writes of the marker is indistinguishable from one with
// no active plan, so malformed JSON is logged and treated the same as a
// missing file rather than surfaced as an error.
func ActivePlan(dataDir, pilotSessionID, projectRoot string) (*models.PlanFile, error) {
	markerPath := filepath.Join(dataDir, "sessions", pilotSessionID, "active_plan.json")
	raw, err := os.ReadFile(markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read active plan marker: %w", err)
	}

	var marker activePlanMarker
	if err := json.Unmarshal(raw, &marker); err != nil {
		log.Warn().Err(err).Str("path", markerPath).Msg("planstore: malformed active plan marker, treating as no active plan")
		return nil, nil
	}
	if marker.PlanPath == "" {
		return nil, nil
	}

	plan, err := ReadPlanFile(projectRoot, marker.PlanPath)
	if err != nil {
		return nil, err
	}
	if marker.Status != "" {
		plan.Status = marker.Status
	}
	return &plan, nil
}
