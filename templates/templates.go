// Package templates holds the built-in HTML message templates used by send,
// reply and forward.
package templates

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

//go:embed html/*.html
var files embed.FS

var ErrUnknownTemplate = errors.New("template not found")

var subjects = map[string]string{
	"phishing_login":      "Urgente: Actualización de seguridad",
	"new_corporate_email": "Internal Mail",
	"mail_2":              "Te quiero",
	"mail_3":              "Tu gimnasio de confianza",
	"mail_4":              "NetfUx Important Notication",
	"mail_5":              "Información de servicio. PayPa1",
	"mail_6":              "Internal Mail",
	"mail_7":              "Gimnastic, notificación de seguridad",
	"mail_8":              "Aviso, problemas con tu cuota",
	"mail_9":              "Internal Mail",
	"mail_10":             "Tía muy fuerte!!",
	"mail_11":             "Porfa necesito un favor",
	"mail_12":             "Últimas oportunidades",
}

var placeholder = regexp.MustCompile(`\{(.*?)\}`)

// Rendered is a template with its placeholders substituted.
type Rendered struct {
	Subject string
	Body    string
}

// Names lists the catalog in a stable order.
func Names() []string {
	names := make([]string, 0, len(subjects))
	for name := range subjects {
		names = append(names, name)
	}
	slices.SortFunc(names, compareNames)
	return names
}

// Render looks up a template and replaces each {key} placeholder found in
// params. Placeholders without a matching param are left as they are.
func Render(name string, params map[string]string) (Rendered, error) {
	subject, ok := subjects[name]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	data, err := files.ReadFile("html/" + name + ".html")
	if err != nil {
		return Rendered{}, fmt.Errorf("reading template %q: %w", name, err)
	}

	body := placeholder.ReplaceAllStringFunc(string(data), func(m string) string {
		if v, ok := params[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
	return Rendered{Subject: subject, Body: body}, nil
}

// ParseParams decodes the --template-params JSON object. Non-string values
// keep their JSON text.
func ParseParams(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("invalid template params: %w", err)
	}
	params := make(map[string]string, len(raw))
	for k, v := range raw {
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			params[k] = str
			continue
		}
		params[k] = string(v)
	}
	return params, nil
}

// compareNames orders mail_2 before mail_10.
func compareNames(a, b string) int {
	na, nb := mailNumber(a), mailNumber(b)
	if na != nb {
		return na - nb
	}
	return strings.Compare(a, b)
}

func mailNumber(name string) int {
	rest, ok := strings.CutPrefix(name, "mail_")
	if !ok {
		return 0
	}
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
