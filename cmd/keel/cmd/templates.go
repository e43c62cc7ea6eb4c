// Copyright © 2018 One Concern

package cmd

import (
	"bytes"
	"text/template"

	units "github.com/docker/go-units"
)

var (
	publicationTemplate func(flagsT) *template.Template
	summaryTemplate     func(flagsT) *template.Template
	versionTemplate     func(flagsT) *template.Template
	historyTemplate     func(flagsT) *template.Template
	manifestTemplate    func(flagsT) *template.Template
	cleanTemplate       func(flagsT) *template.Template
	versionInfoTemplate func(flagsT) *template.Template
)

var templateFuncs = template.FuncMap{
	"humanSize": func(n int64) string { return units.HumanSize(float64(n)) },
}

// userTemplate is the template given with --format, if any
func userTemplate(name string, opts flagsT) *template.Template {
	if opts.core.Template == "" {
		return nil
	}
	t, err := template.New(name).Funcs(templateFuncs).Parse(opts.core.Template)
	if err != nil {
		wrapFatalln("invalid template", err)
		return nil
	}
	return t
}

func defaultTemplate(name, text string) func(flagsT) *template.Template {
	return func(opts flagsT) *template.Template {
		if t := userTemplate(name, opts); t != nil {
			return t
		}
		return template.Must(template.New(name).Funcs(templateFuncs).Parse(text))
	}
}

func init() {
	publicationTemplate = defaultTemplate("publication",
		`{{.Outcome}} {{.Reference}}{{if .Bumped}} ({{.Bump}}, {{.Changed}} changed){{end}}{{if .Restored}} (tag restored){{end}}`)

	summaryTemplate = defaultTemplate("list line",
		`{{.ID}} , {{with .Latest}}{{.}}{{else}}-{{end}} , {{.Releases}} releases , {{.Adhoc}} adhoc{{range .Branches}} , {{.}}{{end}}`)

	versionTemplate = defaultTemplate("version line", `{{.}}`)

	historyTemplate = defaultTemplate("history line",
		`{{.Ref}} , {{.ReleasedAt.Format "2006-01-02 15:04:05"}} , {{if .IsAdhoc}}adhoc{{else}}{{.Bump}}{{end}}{{with .Parent}} , from {{.}}{{end}}`)

	manifestTemplate = defaultTemplate("manifest", `{{.Reference}}
  manifest: {{.Digest}}
  size: {{humanSize .Size}}
{{- range .Layers}}
  {{.Media}}: {{.Digest}} ({{humanSize .Size}})
{{- end}}
{{- range $k, $v := .Annotations}}
  {{$k}}: {{$v}}
{{- end}}`)

	versionInfoTemplate = defaultTemplate("version", `Version: {{.Version}}
Build date: {{.BuildDate}}
Commit: {{.GitCommit}}
Working tree: {{.GitState}}
Go: {{.GoVersion}}
Artifact type: {{.ArtifactType}}
Ledger type: {{.LedgerType}}
Registry: {{.Registry}}{{with .Primary}}
Primary branch: {{.}}{{end}}`)

	cleanTemplate = defaultTemplate("clean report", `{{if .DryRun}}would remove{{else}}removed{{end}} from {{.ID}}:
{{- range .Adhoc}}
  adhoc {{.}}
{{- end}}
{{- range .Released}}
  release {{.}}
{{- end}}
{{- range .Ledgers}}
  ledger {{.}}
{{- end}}`)
}

// printTemplate renders some data with a template, then prints it
func printTemplate(t *template.Template, data interface{}) bool {
	if t == nil {
		return false
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		wrapFatalln("executing template", err)
		return false
	}
	infoLogger.Println(buf.String())
	return true
}
