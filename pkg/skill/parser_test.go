package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

const basicManifest = `---
name: weather
description: Fetches the local forecast
version: 1.2.0
author: alice
license: MIT
requires:
  bins:
    - jq
  env:
    - WEATHER_API_KEY
  permissions:
    - network
install:
  - description: install jq
    command: apt-get install jq
  - echo done
---

# Weather

Shows the forecast for your location.
`

func TestParse(t *testing.T) {
	t.Run("full manifest", func(t *testing.T) {
		dir := writeSkill(t, map[string]string{"SKILL.md": basicManifest})

		sk, warnings, err := Parse(dir)
		require.NoError(t, err)
		assert.Empty(t, warnings)

		assert.Equal(t, "weather", sk.Name)
		assert.Equal(t, "Fetches the local forecast", sk.Description)
		assert.Equal(t, "1.2.0", sk.Version)
		assert.Equal(t, "alice", sk.Author)
		assert.Equal(t, "MIT", sk.License)
		assert.Equal(t, []string{"jq"}, sk.Requires.Bins)
		assert.Equal(t, []string{"WEATHER_API_KEY"}, sk.Requires.Env)
		assert.Equal(t, []string{"network"}, sk.Requires.Permissions)

		require.Len(t, sk.InstallSteps, 2)
		assert.Equal(t, InstallStep{Description: "install jq", Command: "apt-get install jq"}, sk.InstallSteps[0])
		assert.Equal(t, InstallStep{Command: "echo done"}, sk.InstallSteps[1])

		assert.Contains(t, sk.BodyMarkdown, "# Weather")
		assert.NotContains(t, sk.BodyMarkdown, "name: weather")
		assert.Contains(t, sk.RawManifest, "name: weather")
		assert.Equal(t, dir, sk.RootPath)
	})

	t.Run("manifest missing", func(t *testing.T) {
		dir := writeSkill(t, map[string]string{"README.md": "nothing here"})

		_, _, err := Parse(dir)
		assert.ErrorIs(t, err, ErrManifestMissing)
	})

	t.Run("missing name", func(t *testing.T) {
		dir := writeSkill(t, map[string]string{"SKILL.md": "---\ndescription: no name\n---\nbody\n"})

		_, _, err := Parse(dir)
		var invalid *ManifestInvalidError
		require.True(t, errors.As(err, &invalid))
		assert.Contains(t, invalid.Message, "name")
	})

	t.Run("no frontmatter", func(t *testing.T) {
		dir := writeSkill(t, map[string]string{"SKILL.md": "# Just markdown\n"})

		_, _, err := Parse(dir)
		var invalid *ManifestInvalidError
		assert.True(t, errors.As(err, &invalid))
	})

	t.Run("leading blank line tolerated", func(t *testing.T) {
		dir := writeSkill(t, map[string]string{"SKILL.md": "\n---\nname: padded\n---\nbody\n"})

		sk, _, err := Parse(dir)
		require.NoError(t, err)
		assert.Equal(t, "padded", sk.Name)
	})
}

func TestParseScripts(t *testing.T) {
	dir := writeSkill(t, map[string]string{
		"SKILL.md":      "---\nname: scripted\n---\nbody\n",
		"setup.sh":      "#!/bin/bash\necho setup\n",
		"helper.py":     "print('hi')\n",
		"tool.ts":       "console.log('hi')\n",
		"runner":        "#!/usr/bin/env python3\nprint('run')\n",
		"notes.txt":     "plain notes\n",
		"docs/usage.md": "# Usage\n",
	})

	sk, warnings, err := Parse(dir)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	languages := map[string]Language{}
	for _, s := range sk.Scripts {
		languages[s.Path] = s.Language
		assert.NotEmpty(t, s.Text)
		assert.Greater(t, s.SizeBytes, int64(0))
	}
	assert.Equal(t, map[string]Language{
		"setup.sh":  LanguageBash,
		"helper.py": LanguagePython,
		"tool.ts":   LanguageTypeScript,
		"runner":    LanguagePython,
	}, languages)

	var extraPaths []string
	for _, f := range sk.ExtraFiles {
		extraPaths = append(extraPaths, f.Path)
	}
	assert.ElementsMatch(t, []string{"notes.txt", "docs/usage.md"}, extraPaths)
}

func TestParseBinaryDetection(t *testing.T) {
	dir := writeSkill(t, map[string]string{"SKILL.md": "---\nname: bin\n---\nbody\n"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blob.dat"), []byte("abc\x00def"), 0o644))

	sk, _, err := Parse(dir)
	require.NoError(t, err)

	require.Len(t, sk.ExtraFiles, 1)
	assert.True(t, sk.ExtraFiles[0].IsBinary)
	assert.Empty(t, sk.ExtraFiles[0].Text)
}

func TestParseOversizedFile(t *testing.T) {
	dir := writeSkill(t, map[string]string{"SKILL.md": "---\nname: big\n---\nbody\n"})
	big := strings.Repeat("x", maxTextBytes+1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(big), 0o644))

	sk, warnings, err := Parse(dir)
	require.NoError(t, err)

	require.Len(t, sk.ExtraFiles, 1)
	assert.Empty(t, sk.ExtraFiles[0].Text)
	require.Len(t, warnings, 1)
	assert.Equal(t, "parser", warnings[0].Analyzer)
	assert.Contains(t, warnings[0].Title, "big.txt")
}

func TestParseSkipsDirectories(t *testing.T) {
	dir := writeSkill(t, map[string]string{
		"SKILL.md":                  "---\nname: skipper\n---\nbody\n",
		".git/config":               "[core]\n",
		".venv/lib/site.py":         "print('no')\n",
		"node_modules/pkg/index.js": "module.exports = {}\n",
		"src/main.py":               "print('yes')\n",
	})

	sk, _, err := Parse(dir)
	require.NoError(t, err)

	require.Len(t, sk.Scripts, 1)
	assert.Equal(t, "src/main.py", sk.Scripts[0].Path)
}

func TestParseTooManyFiles(t *testing.T) {
	dir := writeSkill(t, map[string]string{"SKILL.md": "---\nname: crowded\n---\nbody\n"})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "files"), 0o755))
	for i := 0; i < maxFileCount+1; i++ {
		name := filepath.Join(dir, "files", fmt.Sprintf("f%04d.txt", i))
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}

	_, _, err := Parse(dir)
	var tooLarge *TooLargeError
	require.True(t, errors.As(err, &tooLarge))
	assert.Contains(t, tooLarge.Reason, "files")
}

func TestShebangLanguage(t *testing.T) {
	cases := []struct {
		text string
		lang Language
		ok   bool
	}{
		{"#!/bin/bash\necho hi\n", LanguageBash, true},
		{"#!/usr/bin/env python3\nprint(1)\n", LanguagePython, true},
		{"#!/usr/bin/env node\n", LanguageJavaScript, true},
		{"#!/usr/bin/python3.12\n", LanguagePython, true},
		{"plain text\n", LanguageUnknown, false},
		{"#!\n", LanguageUnknown, false},
	}
	for _, tc := range cases {
		lang, ok := shebangLanguage(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		if ok {
			assert.Equal(t, tc.lang, lang, tc.text)
		}
	}
}
