package baseline

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSubstituteString(t *testing.T) {
	env := map[string]string{
		"TAG":   "2024.01",
		"EMPTY": "",
		"HOST":  "pi.hole",
	}

	tests := []struct {
		in   string
		want string
	}{
		{in: "pihole/pihole:${TAG}", want: "pihole/pihole:2024.01"},
		{in: "pihole/pihole:$TAG", want: "pihole/pihole:2024.01"},
		{in: "${MISSING}", want: ""},
		{in: "${MISSING:-fallback}", want: "fallback"},
		{in: "${EMPTY:-fallback}", want: "fallback"},
		{in: "${EMPTY-fallback}", want: ""},
		{in: "${MISSING-fallback}", want: "fallback"},
		{in: "${HOST:+set}", want: "set"},
		{in: "${MISSING:+set}", want: ""},
		{in: "${MISSING:?must be set}", want: ""},
		{in: "${MISSING:-${HOST}}", want: "pi.hole"},
		{in: "price: $$5", want: "price: $5"},
		{in: "Host(`${HOST}`)", want: "Host(`pi.hole`)"},
		{in: "trailing $", want: "trailing $"},
		{in: "unclosed ${TAG", want: "unclosed ${TAG"},
		{in: "no variables", want: "no variables"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SubstituteString(tt.in, env); got != tt.want {
				t.Errorf("SubstituteString(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSubstituteNested(t *testing.T) {
	tree := map[string]any{
		"services": map[string]any{
			"web": map[string]any{
				"image": "nginx:${TAG:-1.25}",
				"ports": []any{"${PORT}:80", 443},
				"environment": map[string]any{
					"${KEY}": "${VALUE}",
				},
			},
		},
	}
	env := map[string]string{"PORT": "8080", "KEY": "x", "VALUE": "v"}

	got := Substitute(tree, env).(map[string]any)
	web := got["services"].(map[string]any)["web"].(map[string]any)

	if web["image"] != "nginx:1.25" {
		t.Errorf("image = %v", web["image"])
	}
	if !reflect.DeepEqual(web["ports"], []any{"8080:80", 443}) {
		t.Errorf("ports = %v", web["ports"])
	}
	envMap := web["environment"].(map[string]any)
	if envMap["${KEY}"] != "v" {
		t.Errorf("keys must not be substituted, got %v", envMap)
	}
}

func TestLoadEnvFallback(t *testing.T) {
	tests := []struct {
		name     string
		files    map[string]string
		wantFile string
		want     map[string]string
	}{
		{
			name:     "primary wins",
			files:    map[string]string{".env": "TAG=1\n", ".env.sample": "TAG=sample\n"},
			wantFile: ".env",
			want:     map[string]string{"TAG": "1"},
		},
		{
			name:     "sample fallback",
			files:    map[string]string{".env.sample": "TAG=sample\n"},
			wantFile: ".env.sample",
			want:     map[string]string{"TAG": "sample"},
		},
		{
			name:  "none",
			files: map[string]string{},
			want:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			got, file, err := LoadEnv(dir)
			if err != nil {
				t.Fatalf("LoadEnv() error = %v", err)
			}
			if filepath.Base(file) != tt.wantFile && !(tt.wantFile == "" && file == "") {
				t.Errorf("LoadEnv() file = %q, want %q", file, tt.wantFile)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("LoadEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := map[string]any{
		"services": map[string]any{
			"web": map[string]any{
				"image":   "nginx:1.25",
				"ports":   []any{"80:80", "443:443"},
				"labels":  map[string]any{"a": "1", "b": "2"},
				"restart": "always",
			},
		},
	}
	override := map[string]any{
		"services": map[string]any{
			"web": map[string]any{
				"ports":  []any{"8080:80"},
				"labels": map[string]any{"b": "3"},
			},
		},
	}

	got := Merge(base, override).(map[string]any)
	web := got["services"].(map[string]any)["web"].(map[string]any)

	if !reflect.DeepEqual(web["ports"], []any{"8080:80"}) {
		t.Errorf("sequences must be replaced wholesale, got %v", web["ports"])
	}
	if !reflect.DeepEqual(web["labels"], map[string]any{"a": "1", "b": "3"}) {
		t.Errorf("mappings must merge key by key, got %v", web["labels"])
	}
	if web["image"] != "nginx:1.25" || web["restart"] != "always" {
		t.Errorf("base keys lost: %v", web)
	}
	if base["services"].(map[string]any)["web"].(map[string]any)["ports"].([]any)[0] != "80:80" {
		t.Error("Merge must not mutate the base tree")
	}
}
