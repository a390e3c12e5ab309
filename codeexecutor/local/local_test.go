//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package local

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVetCodeAccepts(t *testing.T) {
	cases := []string{
		"def main(params):\n    return {\"x\": 1}\n",
		"import json\n\ndef main(params):\n    return {}\n",
		"from math import sqrt\n# helper comment\ndef main(params):\n    v = sqrt(params[\"n\"])\n    return {\"v\": v}\n",
		"import json, sys\ndef main(params):\n    return {}\n",
		"import os.path as p\nfrom math import sqrt as s, floor\ndef main(params):\n    return {}\n",
	}
	for _, code := range cases {
		require.NoError(t, vetCode(code), "code: %q", code)
	}
}

func TestVetCodeRejects(t *testing.T) {
	cases := map[string]string{
		"no main":            "import json\n",
		"wrong name":         "def helper(params):\n    return {}\n",
		"wrong parameter":    "def main(x):\n    return {}\n",
		"two mains":          "def main(params):\n    return {}\ndef main(params):\n    return {}\n",
		"top-level call":     "print(1)\ndef main(params):\n    return {}\n",
		"top-level variable": "SECRET = 1\ndef main(params):\n    return {}\n",
		"statement after import": "import os; os.system('id')\ndef main(params):\n    return {}\n",
		"statement after from":   "from os import system; system('id')\ndef main(params):\n    return {}\n",
	}
	for name, code := range cases {
		require.Error(t, vetCode(code), "case %s", name)
	}
}

func TestDriverScript(t *testing.T) {
	script := driverScript("def main(params):\n    return {\"x\": params[\"x\"]}\n")
	require.True(t, strings.HasPrefix(script, "import json, sys\n"))
	require.Contains(t, script, "_params = json.load(sys.stdin)")
	require.Contains(t, script, resultMarker)
}

func TestExecutorDefaults(t *testing.T) {
	e := New()
	require.Equal(t, "python3", e.pythonPath)
	require.Equal(t, defaultTimeout, e.timeout)
	require.True(t, e.cleanTempFiles)

	e = New(WithPythonPath("/usr/bin/python3.12"), WithCleanTempFiles(false))
	require.Equal(t, "/usr/bin/python3.12", e.pythonPath)
	require.False(t, e.cleanTempFiles)
}
