package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	cases := map[string]struct{ in, want string }{
		"script block":   {`<script>alert(1)</script>`, ""},
		"script inline":  {`hi <SCRIPT type="text/javascript">x()</script > there`, "hi  there"},
		"js scheme":      {`javascript:alert(1)`, "alert(1)"},
		"js scheme case": {`<a href="JavaScript :void(0)">`, `<a href="void(0)">`},
		"event handler":  {`<img src=x onerror=alert(1)>`, `<img src=x alert(1)>`},
		"plain":          {"Room 12, late check-in", "Room 12, late check-in"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.want, SanitizeString(c.in))
		})
	}
}

func TestSanitizeString_Truncates(t *testing.T) {
	assert.Len(t, SanitizeString(strings.Repeat("a", MaxStringLength+1)), MaxStringLength)
	assert.Len(t, SanitizeString(strings.Repeat("a", MaxStringLength)), MaxStringLength)
	assert.Equal(t, MaxStringLength, len([]rune(SanitizeString(strings.Repeat("é", MaxStringLength+5)))))
}

func TestSanitize_Recursive(t *testing.T) {
	in := map[string]interface{}{
		"name":   "<script>steal()</script>Ann",
		"guests": float64(2),
		"notes":  []interface{}{"ok", "javascript:x", map[string]interface{}{"n": "<b onclick=go()>"}},
		"vip":    true,
		"none":   nil,
	}
	out := Sanitize(in).(map[string]interface{})
	assert.Equal(t, "Ann", out["name"])
	assert.Equal(t, float64(2), out["guests"])
	assert.Equal(t, true, out["vip"])
	assert.Nil(t, out["none"])
	notes := out["notes"].([]interface{})
	assert.Equal(t, "ok", notes[0])
	assert.Equal(t, "x", notes[1])
	assert.Equal(t, "<b go()>", notes[2].(map[string]interface{})["n"])

	// input is not modified
	assert.Equal(t, "<script>steal()</script>Ann", in["name"])
}
