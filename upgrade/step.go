package upgrade

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/upgradekit/odooup/addons"
	"github.com/upgradekit/odooup/compose"
	"github.com/upgradekit/odooup/database"
	"github.com/upgradekit/odooup/genericclioptions"
	"github.com/upgradekit/odooup/upgradeerrors"
)

const (
	// workerService names both the worker image and its container.
	workerService = "odoo-openupgrade"

	// buildStampFile is rewritten in the bundle before every step so the
	// COPY layers of the worker image never reuse a stale cache entry.
	buildStampFile = ".build_timestamp"

	openUpgradeRepo = "https://github.com/OCA/OpenUpgrade.git"

	frameworkMount = "/mnt/extra-addons"
	customMount    = "/mnt/custom-addons"

	baseModules = "base,web,openupgrade_framework"
)

// dockerfileTemplate layers the migration framework, pinned to the
// branch matching the step's target version, onto the stock Odoo image.
// The third placeholder receives the optional addon layers.
const dockerfileTemplate = `FROM odoo:%[1]s
USER root
RUN apt-get update && apt-get install -y git && rm -rf /var/lib/apt/lists/*
RUN git clone %[2]s --depth 1 --branch %[1]s %[3]s
RUN pip3 install --no-cache-dir -r %[3]s/requirements.txt

%[4]s
USER odoo
`

// addonLayers copies the dependency manifest first and installs it
// before copying the rest of the bundle, keeping the pip layer cacheable
// across steps while the bundle content layer stays last.
const addonLayers = `RUN mkdir -p ` + customMount + `
COPY --chown=odoo:odoo ./output/custom_addons/requirements.txt ` + customMount + `/requirements.txt
RUN pip3 install --no-cache-dir -r ` + customMount + `/requirements.txt
COPY --chown=odoo:odoo ./output/custom_addons/ ` + customMount + `/
`

// Step describes a single version transition performed by one worker.
type Step struct {
	// To is the version this step upgrades the database to, e.g. "14.0".
	To string

	// Final is true only when To equals the session's target version. It
	// gates mounting and loading the custom addons bundle.
	Final bool
}

// StepRunner builds and runs one containerized upgrade worker per step,
// owning the worker-process handle only for the duration of the step.
type StepRunner struct {
	*genericclioptions.IOStreams

	Session *Session
	Exec    compose.Executor
}

func NewStepRunner(iostreams *genericclioptions.IOStreams, session *Session, exec compose.Executor) *StepRunner {
	return &StepRunner{
		IOStreams: iostreams,
		Session:   session,
		Exec:      exec,
	}
}

// Run executes exactly one upgrade step. Success requires both the
// compose invocation and the worker container itself to exit zero; on
// success the worker service is brought down while the database service
// keeps running for the next step.
func (r *StepRunner) Run(ctx context.Context, step Step) error {
	r.Debugf("preparing upgrade step to version %s\n", step.To)

	if err := r.writeDescriptors(step); err != nil {
		return &upgradeerrors.StepError{Version: step.To, Err: err}
	}

	// a stale worker from an aborted earlier run would collide on name
	_ = r.Exec.RemoveContainer(ctx, workerService)

	r.Infof("Upgrading to %s...\n", step.To)

	stderr, err := r.Exec.UpBuild(ctx, WorkerComposeFileName, func(line string) {
		if r.Verbose {
			r.Printf("%s\n", line)
		} else {
			r.Logf("%s\n", line)
		}
	})
	if stderr != "" {
		r.Logf("worker error stream: %s\n", stderr)
	}

	if err != nil {
		if !r.Verbose && stderr != "" {
			r.Errorf("%s\n", stderr)
		}

		return &upgradeerrors.StepError{Version: step.To, Err: err}
	}

	code, err := r.Exec.ContainerExitCode(ctx, workerService)
	if err != nil {
		return &upgradeerrors.StepError{Version: step.To, Err: err}
	}

	if code != 0 {
		return &upgradeerrors.StepError{
			Version: step.To,
			Err:     fmt.Errorf("worker container exited with code %d", code),
		}
	}

	r.Infof("Upgrade to %s successful.\n", step.To)

	if err := r.Exec.Down(ctx, WorkerComposeFileName, false); err != nil {
		r.Debugf("worker down: %v\n", err)
	}

	return nil
}

// writeDescriptors generates the worker Dockerfile and service
// descriptor for this step in the session work directory.
func (r *StepRunner) writeDescriptors(step Step) error {
	layers := ""

	if r.Session.HasAddons() {
		// force cache invalidation so the COPY layers re-run even when
		// the bundle content is otherwise unchanged
		stamp := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := os.WriteFile(
			filepath.Join(r.Session.CustomAddonsDir, buildStampFile), []byte(stamp), 0o644); err != nil {
			return fmt.Errorf("write build stamp: %w", err)
		}

		layers = addonLayers
	}

	dockerfile := fmt.Sprintf(dockerfileTemplate, step.To, openUpgradeRepo, frameworkMount, layers)
	if err := os.WriteFile(filepath.Join(r.Session.WorkDir, DockerfileName), []byte(dockerfile), 0o644); err != nil {
		return fmt.Errorf("write Dockerfile: %w", err)
	}

	command, err := r.workerCommand(step)
	if err != nil {
		return err
	}

	descriptor := workerDescriptor(command)
	if err := descriptor.WriteFile(filepath.Join(r.Session.WorkDir, WorkerComposeFileName)); err != nil {
		return fmt.Errorf("write worker descriptor: %w", err)
	}

	return nil
}

// workerCommand assembles the migration-framework invocation: upgrade
// all installed modules, stop after initialization, and only on the
// final step extend the addons path and module-load list with the
// discovered custom modules.
func (r *StepRunner) workerCommand(step Step) (string, error) {
	addonsPath := frameworkMount
	load := baseModules

	if r.Session.HasAddons() {
		if step.Final {
			r.Debugf("target version reached, injecting custom addons path and modules\n")

			addonsPath += "," + customMount

			modules, err := addons.ListModules(r.Session.CustomAddonsDir)
			if err != nil {
				return "", fmt.Errorf("list custom modules: %w", err)
			}

			if len(modules) > 0 {
				load += "," + strings.Join(modules, ",")
			}
		} else {
			r.Debugf("intermediate version, skipping custom addons loading\n")
		}
	}

	command := fmt.Sprintf("odoo -d %s"+
		" --upgrade-path=%s/openupgrade_scripts/scripts"+
		" --addons-path=%s"+
		" --update all"+
		" --stop-after-init"+
		" --load=%s"+
		" --log-level=info"+
		" --logfile=/var/log/odoo/odoo.log",
		database.TargetDatabase, frameworkMount, addonsPath, load)

	return command, nil
}

// workerDescriptor wires the worker to the shared database network and
// mounts the output and log directories.
func workerDescriptor(command string) *compose.File {
	return &compose.File{
		Services: map[string]compose.Service{
			workerService: {
				Image:         workerService,
				Build:         &compose.Build{Context: ".", Dockerfile: DockerfileName},
				ContainerName: workerService,
				Environment: []string{
					"HOST=" + database.ServiceName,
					"POSTGRES_USER=" + database.User,
					"POSTGRES_PASSWORD=" + database.User,
				},
				Networks: []string{database.NetworkName},
				Volumes: []string{
					"./output/filestore:/var/lib/odoo/filestore/" + database.TargetDatabase,
					"./output:/var/log/odoo",
				},
				Restart:    "no",
				Entrypoint: "/entrypoint.sh",
				Command:    command,
			},
		},
		Networks: map[string]compose.Network{
			database.NetworkName: {External: true, Name: database.NetworkName},
		},
	}
}
