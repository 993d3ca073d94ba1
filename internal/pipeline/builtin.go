// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package pipeline

import "fmt"

// Names of the built-in pipelines.
const (
	InferenceName  = "inference"
	SkullStripName = "skullstrip"
)

// Skull-strip tool variants.
const (
	ToolFslBet     = "fsl-bet"
	ToolSynthStrip = "synthstrip"
	ToolHdBet      = "hd-bet"
)

// DefaultOptions returns the option defaults consumed by the built-in
// argument templates. Job configuration values override these.
func DefaultOptions() map[string]string {
	return map[string]string{
		"scripts_dir":      "deep_learning",
		"atlas":            "pediatric_fdopa_pipeline/atlas/T1.nii.gz",
		"synthstrip_model": "synthstrip.1.pt",
		"checkpoint":       "deep_learning/checkpoints/fold3/epoch=146-dice=88.05.ckpt",
		"predictions_dir":  "predictions_epoch=146-dice=88_05_task=train_fold=0_tta",
		"gpus":             "1",
		"bet_f":            "0.5",
		"hdbet_device":     "cuda",
	}
}

// Inference returns the six-phase deep-learning segmentation pipeline:
// skull-stripping, atlas coregistration, reorientation, preprocessing,
// network inference and postprocessing.
func Inference() *Pipeline {
	phases := []Phase{
		{
			Name:       "synthstrip",
			Title:      "Skull strip (SynthStrip)",
			Executable: "nipreps-synthstrip",
			Args: []string{
				"-i", "${input}",
				"-o", "${output}",
				"-g",
				"--model", "${opt.synthstrip_model}",
			},
			Output: OutputSpec{Suffix: "_skull_stripped.nii.gz"},
		},
		{
			Name:       "coregistration",
			Title:      "Coregistration with atlas",
			Executable: "python3",
			Args: []string{
				"${opt.scripts_dir}/coregistration.py",
				"--mri", "${source}",
				"--skull", "${input}",
				"--atlas", "${opt.atlas}",
				"-o", "${outdir}",
			},
			Output: OutputSpec{Subdir: "coregistration", Glob: "*.nii*"},
		},
		{
			Name:       "reorientation",
			Title:      "Reorientation to atlas space",
			Executable: "python3",
			Args: []string{
				"${opt.scripts_dir}/reorientation.py",
				"--input", "${input}",
				"--output", "${outdir}",
				"--basename", "${basename}",
			},
			Output: OutputSpec{Subdir: "reoriented", Glob: "*.nii*"},
		},
		{
			Name:       "preprocess",
			Title:      "Prepare and preprocess",
			Executable: "python3",
			Args: []string{
				"${opt.scripts_dir}/preprocess.py",
				"--data", "${workdir}/reoriented",
				"--results", "${outdir}",
				"--ohe",
			},
			Output: OutputSpec{Subdir: "preprocess", Glob: "*"},
		},
		{
			Name:       "inference",
			Title:      "Deep learning inference",
			Executable: "python3",
			Args: []string{
				"${opt.scripts_dir}/deep_learning_runner.py",
				"--exec_mode", "predict",
				"--data", "${workdir}/preprocess/val_3d/test",
				"--ckpt_path", "${opt.checkpoint}",
				"--gpus", "${opt.gpus}",
				"--amp",
				"--tta",
				"--save_preds",
				"--results", "${outdir}",
			},
			Output: OutputSpec{Subdir: "dl_results", Glob: "*"},
		},
		{
			Name:       "postprocess",
			Title:      "Postprocess predictions",
			Executable: "python3",
			Args: []string{
				"${opt.scripts_dir}/postprocess.py",
				"-i", "${workdir}/dl_results/${opt.predictions_dir}",
				"-o", "${outdir}",
				"--mri", "${source}",
			},
			Output: OutputSpec{Subdir: "dl_postprocess", Glob: "*.nii*"},
		},
	}

	return build(InferenceName, phases)
}

// SkullStrip returns the single-phase skull-strip pipeline for the given
// tool variant (fsl-bet, synthstrip or hd-bet).
func SkullStrip(tool string) (*Pipeline, error) {
	var phase Phase

	switch tool {
	case ToolFslBet:
		phase = Phase{
			Name:       "fsl-bet",
			Title:      "Skull strip (FSL BET)",
			Executable: "bet",
			Args: []string{
				"${input}",
				"${output}",
				"-f", "${opt.bet_f}",
			},
			Output: OutputSpec{Suffix: "_brain.nii.gz"},
		}
	case ToolSynthStrip:
		phase = Phase{
			Name:       "synthstrip",
			Title:      "Skull strip (SynthStrip)",
			Executable: "nipreps-synthstrip",
			Args: []string{
				"-i", "${input}",
				"-o", "${output}",
				"--model", "${opt.synthstrip_model}",
			},
			Output: OutputSpec{Suffix: "_skull_stripped.nii.gz"},
		}
	case ToolHdBet:
		phase = Phase{
			Name:       "hd-bet",
			Title:      "Skull strip (HD-BET)",
			Executable: "hd-bet",
			Args: []string{
				"-i", "${input}",
				"-o", "${output}",
				"-device", "${opt.hdbet_device}",
			},
			Output: OutputSpec{Suffix: "_bet.nii.gz"},
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}

	return build(SkullStripName, []Phase{phase}), nil
}

func build(name string, phases []Phase) *Pipeline {
	for i := range phases {
		phases[i].Index = i
		if phases[i].Weight == 0 {
			phases[i].Weight = 1
		}
	}

	return &Pipeline{Name: name, Phases: phases}
}
