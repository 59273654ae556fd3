package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/config"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/pipeline"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/sandbox"
)

const generateCommand = "cd /work && python circuit.py --generate --out /out"

// finalize runs the artifact-generation step in a fresh sandbox with the
// host output directory bind-mounted in. The exec status and the recovered
// files are reported independently: a timed-out or crashed generation still
// surfaces whatever files made it to disk, with a warning attached.
func (o *Orchestrator) finalize(ctx context.Context, runID string, run *pipeline.Run, opts Options) (*pipeline.Result, error) {
	outDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	// Pre-existing files in the directory are left alone and are not
	// reported as this run's artifacts.
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	prior, err := listFiles(outDir)
	if err != nil {
		return nil, fmt.Errorf("scan output dir: %w", err)
	}
	preExisting := make(map[string]struct{}, len(prior))
	for _, f := range prior {
		preExisting[f] = struct{}{}
	}

	// The script itself ships with the artifacts, even if generation fails.
	// It counts as this run's output even when it overwrites an older copy.
	scriptPath := filepath.Join(outDir, "circuit.py")
	delete(preExisting, scriptPath)
	if err := os.WriteFile(scriptPath, []byte(run.Artifacts.Code.Source), 0o644); err != nil {
		return nil, fmt.Errorf("write circuit source: %w", err)
	}

	session := o.newSession("final", []string{outDir + ":/out"})
	stopSession := o.guardSession(session)
	defer stopSession()

	if err := o.writeCode(ctx, session, run.Artifacts.Code.Source); err != nil {
		return nil, err
	}

	o.logf("generating output artifacts")
	execTimeout := config.Duration(o.cfg.Sandbox.ExecTimeout, 2*time.Minute)
	res, err := session.Execute(ctx, generateCommand, execTimeout)
	if err != nil {
		return nil, err
	}
	o.logSandbox(runID, session.Name(), "exec", fmt.Sprintf("generate outcome=%s", res.Outcome))

	result := &pipeline.Result{
		Code: run.Artifacts.Code.Source,
	}

	switch res.Outcome {
	case sandbox.OutcomeTimeout:
		result.Warning = fmt.Sprintf("artifact generation timed out after %s; recovered files may be incomplete", execTimeout)
	case sandbox.OutcomeExit:
		result.Warning = fmt.Sprintf("artifact generation exited with code %d: %s",
			res.ExitCode, truncate(res.Stderr, 500))
	}
	if res.Failed() {
		// The bind mount captures files written before the failure, but
		// anything left beside the script needs an explicit copy out.
		if copyErr := session.CopyArtifacts(ctx, "/work/.", outDir); copyErr != nil {
			o.logf("artifact recovery copy failed: %v", copyErr)
		} else {
			o.logSandbox(runID, session.Name(), "copied", "recovered /work after failed generation")
		}
	}

	all, err := listFiles(outDir)
	if err != nil {
		return nil, fmt.Errorf("scan output dir: %w", err)
	}
	var files []string
	for _, f := range all {
		if _, ok := preExisting[f]; !ok {
			files = append(files, f)
		}
	}
	result.OutputFiles = files
	run.Artifacts.OutputFiles = files

	if len(files) == 0 && result.Warning == "" {
		result.Warning = "artifact generation completed but produced no files"
	}
	o.logf("wrote %d file(s) to %s", len(files), outDir)
	return result, nil
}

// listFiles returns the absolute paths of all regular files under dir, sorted.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
