package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/qflowhq/bandscan/internal/bands"
	dockerpkg "github.com/qflowhq/bandscan/internal/docker"
	"github.com/qflowhq/bandscan/internal/geometry"
)

// defaultJobTimeout bounds a single solver container run. Electronic-structure
// jobs at the mesh sizes this tool submits finish well inside this.
const defaultJobTimeout = 4 * time.Hour

// DockerConfig configures the Docker-backed solver runner.
type DockerConfig struct {
	// Image is the solver image run for scf/nscf/relax jobs.
	Image string

	// InvariantImage is the image for the invariant stage. Defaults to Image.
	InvariantImage string

	// Command overrides the image entrypoint. The job directory is mounted
	// at /job with input.json inside; the container must write output.json
	// next to it and exit 0 on success.
	Command []string

	// ScratchRoot is the host directory job directories are created under.
	// SCF scratch dirs persist here so band jobs can restart from them.
	ScratchRoot string

	// RunName and RunID label every container for later discovery.
	RunName string
	RunID   string

	// JobTimeout bounds one container run. Zero means defaultJobTimeout.
	JobTimeout time.Duration
}

// DockerRunner submits each solver job as a one-shot container: the job
// directory is bind-mounted, the container consumes /job/input.json and
// produces /job/output.json, and a non-zero exit is a job failure. It
// implements Runner, Relaxer, and InvariantRunner.
type DockerRunner struct {
	cli *client.Client
	cfg DockerConfig
}

// NewDockerRunner validates the configuration and returns a runner.
func NewDockerRunner(cli *client.Client, cfg DockerConfig) (*DockerRunner, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("solver image is required")
	}
	if cfg.ScratchRoot == "" {
		return nil, fmt.Errorf("scratch root is required")
	}
	if cfg.InvariantImage == "" {
		cfg.InvariantImage = cfg.Image
	}
	if cfg.JobTimeout == 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	return &DockerRunner{cli: cli, cfg: cfg}, nil
}

// jobInput is the contract written to /job/input.json. Paths are container
// paths; the restart directory is mounted read-only at /restart when set.
type jobInput struct {
	Mode       Mode                `json:"mode"`
	Structure  Structure           `json:"structure"`
	Pseudos    Pseudos             `json:"pseudos,omitempty"`
	KPointMesh *geometry.KPointSet `json:"kpoint_mesh,omitempty"`
	KPoints    []geometry.Vec3     `json:"kpoints,omitempty"`
	RestartDir string              `json:"restart_dir,omitempty"`
	Crossings  []geometry.Vec3     `json:"crossings,omitempty"`
}

// jobOutput is the contract read back from /job/output.json. Only the fields
// relevant to the job's mode are populated.
type jobOutput struct {
	NElectrons float64          `json:"n_electrons,omitempty"`
	SpinOrbit  bool             `json:"spin_orbit,omitempty"`
	Bands      *bands.Energies  `json:"bands,omitempty"`
	Structure  *Structure       `json:"structure,omitempty"`
	Invariant  *InvariantResult `json:"invariant,omitempty"`
}

// RunSCF implements Runner. The job's scratch directory doubles as the
// restart handle for subsequent band jobs.
func (r *DockerRunner) RunSCF(ctx context.Context, s Structure, pseudos Pseudos, kpoints geometry.KPointSet) (*SCFResult, error) {
	in := jobInput{Mode: ModeSCF, Structure: s, Pseudos: pseudos, KPointMesh: &kpoints}

	out, jobDir, err := r.runJob(ctx, r.cfg.Image, in)
	if err != nil {
		return nil, err
	}

	return &SCFResult{
		NElectrons: out.NElectrons,
		SpinOrbit:  out.SpinOrbit,
		Restart:    &RestartHandle{Dir: jobDir},
	}, nil
}

// RunBands implements Runner.
func (r *DockerRunner) RunBands(ctx context.Context, s Structure, pseudos Pseudos, kpoints []geometry.Vec3, restart *RestartHandle) (*bands.Energies, error) {
	if len(kpoints) == 0 {
		return nil, fmt.Errorf("band job submitted with no k-points")
	}

	in := jobInput{Mode: ModeBands, Structure: s, Pseudos: pseudos, KPoints: kpoints}
	if restart != nil {
		in.RestartDir = "/restart"
	}

	out, _, err := r.runJobWithRestart(ctx, r.cfg.Image, in, restart)
	if err != nil {
		return nil, err
	}
	if out.Bands == nil {
		return nil, fmt.Errorf("band job produced no band energies")
	}
	if err := out.Bands.Validate(); err != nil {
		return nil, fmt.Errorf("band job produced malformed energies: %w", err)
	}
	if len(out.Bands.KPoints) != len(kpoints) {
		return nil, fmt.Errorf("band job returned %d k-points, submitted %d", len(out.Bands.KPoints), len(kpoints))
	}
	return out.Bands, nil
}

// Relax implements Relaxer.
func (r *DockerRunner) Relax(ctx context.Context, s Structure, pseudos Pseudos) (Structure, error) {
	in := jobInput{Mode: ModeRelax, Structure: s, Pseudos: pseudos}

	out, _, err := r.runJob(ctx, r.cfg.Image, in)
	if err != nil {
		return Structure{}, err
	}
	if out.Structure == nil {
		return Structure{}, fmt.Errorf("relax job produced no structure")
	}
	return *out.Structure, nil
}

// ComputeInvariant implements InvariantRunner.
func (r *DockerRunner) ComputeInvariant(ctx context.Context, s Structure, crossings []geometry.Vec3, restart *RestartHandle) (*InvariantResult, error) {
	in := jobInput{Mode: ModeInvariant, Structure: s, Crossings: crossings}
	if restart != nil {
		in.RestartDir = "/restart"
	}

	out, _, err := r.runJobWithRestart(ctx, r.cfg.InvariantImage, in, restart)
	if err != nil {
		return nil, err
	}
	if out.Invariant == nil {
		return nil, fmt.Errorf("invariant job produced no result")
	}
	return out.Invariant, nil
}

func (r *DockerRunner) runJob(ctx context.Context, image string, in jobInput) (*jobOutput, string, error) {
	return r.runJobWithRestart(ctx, image, in, nil)
}

// runJobWithRestart is the single blocking point of the whole search: it
// creates the job directory, runs the container, waits for it to exit, and
// reads the result. Context cancellation is reported as a job failure, never
// retried.
func (r *DockerRunner) runJobWithRestart(ctx context.Context, image string, in jobInput, restart *RestartHandle) (*jobOutput, string, error) {
	jobID := fmt.Sprintf("%s-%s", in.Mode, strings.Split(uuid.New().String(), "-")[0])
	jobDir := filepath.Join(r.cfg.ScratchRoot, jobID)

	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create job directory: %w", err)
	}

	inputJSON, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal job input: %w", err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "input.json"), inputJSON, 0o644); err != nil {
		return nil, "", fmt.Errorf("failed to write job input: %w", err)
	}

	binds := []string{fmt.Sprintf("%s:/job", jobDir)}
	if restart != nil {
		binds = append(binds, fmt.Sprintf("%s:/restart:ro", restart.Dir))
	}

	labels := dockerpkg.BuildLabels(r.cfg.RunName, r.cfg.RunID, "solver")
	labels[dockerpkg.LabelJobID] = jobID
	labels[dockerpkg.LabelJobMode] = string(in.Mode)

	jobCtx, cancel := context.WithTimeout(ctx, r.cfg.JobTimeout)
	defer cancel()

	resp, err := r.cli.ContainerCreate(jobCtx, &container.Config{
		Image:  image,
		Cmd:    r.cfg.Command,
		Labels: labels,
	}, &container.HostConfig{
		Binds: binds,
	}, nil, nil, dockerpkg.SolverContainerName(r.cfg.RunName, jobID))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create solver container: %w", err)
	}
	defer func() {
		// Best-effort cleanup; the scratch dir is what persists.
		if err := r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Printf("[Solver] Failed to remove container %s: %v", resp.ID[:12], err)
		}
	}()

	if err := r.cli.ContainerStart(jobCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, "", fmt.Errorf("failed to start solver container: %w", err)
	}

	log.Printf("[Solver] Running %s job %s", in.Mode, jobID)

	statusCh, errCh := r.cli.ContainerWait(jobCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return nil, "", fmt.Errorf("%s job %s did not complete: %w", in.Mode, jobID, err)
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return nil, "", fmt.Errorf("%s job %s exited with status %d", in.Mode, jobID, status.StatusCode)
		}
	}

	outputJSON, err := os.ReadFile(filepath.Join(jobDir, "output.json"))
	if err != nil {
		return nil, "", fmt.Errorf("%s job %s produced no output: %w", in.Mode, jobID, err)
	}

	var out jobOutput
	if err := json.Unmarshal(outputJSON, &out); err != nil {
		return nil, "", fmt.Errorf("failed to parse %s job output: %w", in.Mode, err)
	}

	log.Printf("[Solver] Completed %s job %s", in.Mode, jobID)
	return &out, jobDir, nil
}
