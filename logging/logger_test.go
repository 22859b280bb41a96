/*
 * Copyright 2021. Go-SmartProxy Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLevelTakesEffectBothWays(t *testing.T) {
	log := GetLogger("leveltest")

	assert.Nil(t, log.Desugar().Check(zapcore.DebugLevel, "m"))
	assert.NotNil(t, log.Desugar().Check(zapcore.InfoLevel, "m"))

	SetLevel("leveltest", zapcore.DebugLevel)
	assert.NotNil(t, log.Desugar().Check(zapcore.DebugLevel, "m"))

	SetLevel("leveltest", zapcore.WarnLevel)
	assert.Nil(t, log.Desugar().Check(zapcore.InfoLevel, "m"))
	assert.NotNil(t, log.Desugar().Check(zapcore.WarnLevel, "m"))
}

func TestConfigureLowersExistingLoggers(t *testing.T) {
	defer Configure(ColorizedOutput, zapcore.InfoLevel)

	early := GetLogger("configtest-early")
	assert.Nil(t, early.Desugar().Check(zapcore.DebugLevel, "m"))

	Configure(ColorizedOutput, zapcore.DebugLevel)
	assert.NotNil(t, early.Desugar().Check(zapcore.DebugLevel, "m"))

	late := GetLogger("configtest-late")
	assert.NotNil(t, late.Desugar().Check(zapcore.DebugLevel, "m"))
}

func TestConfigureSwitchesEncoder(t *testing.T) {
	var buf bytes.Buffer
	orig := output
	output = zapcore.AddSync(&buf)
	defer func() {
		output = orig
		Configure(ColorizedOutput, zapcore.InfoLevel)
	}()

	log := GetLogger("encodertest")

	Configure(JSONOutput, zapcore.InfoLevel)
	log.Info("structured message")
	assert.Contains(t, buf.String(), `"msg":"structured message"`)

	buf.Reset()
	Configure(PlaintextOutput, zapcore.InfoLevel)
	log.Info("plain message")
	assert.Contains(t, buf.String(), "plain message")
	assert.NotContains(t, buf.String(), `"msg"`)
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want LogFormat
	}{
		{"", ColorizedOutput},
		{"colorized", ColorizedOutput},
		{"plaintext", PlaintextOutput},
		{"JSON", JSONOutput},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		require.NoError(t, err, "format: %s", tc.in)
		assert.Equal(t, tc.want, got, "format: %s", tc.in)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}
