//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/schollz/progressbar/v3"

	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

const shaderDir = "assets/shaders"

type Build mg.Namespace

// Compiles every WGSL shader under assets/shaders to SPIR-V, one .spv per
// entry point (name.vert.spv, name.frag.spv).
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/anima-graph", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	files, err := filepath.Glob(filepath.Join(shaderDir, "*.wgsl"))
	if err != nil {
		return err
	}
	bar := progressbar.Default(int64(len(files)), "compiling shaders")
	for _, file := range files {
		if err := compileShader(file); err != nil {
			return err
		}
		_ = bar.Add(1)
	}
	return bar.Finish()
}

func compileShader(file string) error {
	text, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	base := strings.TrimSuffix(file, filepath.Ext(file))
	written := 0
	for stage, suffix := range map[gpu.ShaderStage]string{gpu.StageVertex: "vert", gpu.StageFragment: "frag", gpu.StageCompute: "comp"} {
		if !strings.Contains(string(text), "@"+stageAttribute(stage)) {
			continue
		}
		m, err := shader.CompileWGSL(file, string(text), stage)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if err := os.WriteFile(base+"."+suffix+".spv", wordsToBytes(m.Code), 0o644); err != nil {
			return err
		}
		written++
	}
	if written == 0 {
		return fmt.Errorf("%s: no entry points", file)
	}
	return nil
}

func stageAttribute(stage gpu.ShaderStage) string {
	switch stage {
	case gpu.StageVertex:
		return "vertex"
	case gpu.StageFragment:
		return "fragment"
	}
	return "compute"
}

func wordsToBytes(words []uint32) []byte {
	b := make([]byte, 0, len(words)*4)
	for _, w := range words {
		b = append(b, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	return b
}
