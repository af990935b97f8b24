package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/mailclient/action"
	"github.com/dhcgn/mailclient/filter"
	"github.com/dhcgn/mailclient/mailbox"
	"github.com/dhcgn/mailclient/model"
	"github.com/dhcgn/mailclient/templates"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultInterval    = 60 * time.Second
	DefaultSMTPPort    = 25
	DefaultAPIPort     = 9999
	DefaultSentFolder  = "Sent"
	DefaultDownloadDir = "downloads"
)

// Global holds the options every command shares.
type Global struct {
	LogLevel    string
	LogDir      string
	EnvFile     string
	UseKeyring  bool
	AskPassword bool
}

// Mail describes the store messages are selected from.
type Mail struct {
	Protocol         model.Protocol
	Host             string
	Port             int
	Username         string
	Password         string
	Security         model.Security
	AllowInsecureTLS bool
	Timeout          time.Duration
	Mailbox          string
	Path             string
}

// Options converts m for mailbox.Open.
func (m Mail) Options() mailbox.Options {
	return mailbox.Options{
		Protocol:         m.Protocol,
		Host:             m.Host,
		Port:             m.Port,
		Username:         m.Username,
		Password:         m.Password,
		Security:         m.Security,
		AllowInsecureTLS: m.AllowInsecureTLS,
		Timeout:          m.Timeout,
		Mailbox:          m.Mailbox,
		Path:             m.Path,
	}
}

// Remote reports whether the store is reached over the network.
func (m Mail) Remote() bool {
	return m.Protocol == model.ProtocolIMAP || m.Protocol == model.ProtocolPOP3
}

type SMTP struct {
	Host             string
	Port             int
	Username         string
	Password         string
	Security         model.Security
	AllowInsecureTLS bool
	Timeout          time.Duration
}

// Selection is the query and filter applied to the store.
type Selection struct {
	Query  mailbox.Query
	Filter filter.Options
}

// Run controls how a read pass repeats and what it does with the result.
type Run struct {
	Forever    bool
	Interval   time.Duration
	Delete     bool
	Progress   bool
	Format     string
	ExportMbox string
}

// Send holds everything used to compose outgoing mail.
type Send struct {
	Subject            string
	Body               string
	BodyFile           string
	Images             []string
	Attachments        []string
	Cc                 []string
	Bcc                []string
	Template           string
	TemplateParams     map[string]string
	UseTemplateSubject bool
	SendSeparately     bool
	UseRegex           bool
	APIHost            string
	APIPort            int
	SaveSent           bool
	SentFolder         string
}

// RegisterGlobalFlags attaches the persistent flags to the root command.
func RegisterGlobalFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("env-file", ".env", "Load environment variables from this file when it exists")
	flags.Bool("use-keyring", false, "Read missing passwords from the OS keyring")
	flags.Bool("ask-password", false, "Prompt for missing passwords when running in a terminal")
}

// RegisterMailFlags attaches the flags describing the source store.
func RegisterMailFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("mail-protocol", "r", string(model.ProtocolIMAP), "Mail store: imap, pop3, maildir, mbox")
	flags.String("mail-host", "", "Mail server host")
	flags.Int("mail-port", 0, "Mail server port (default depends on protocol and security)")
	flags.String("mail-username", "", "Mail server username")
	flags.String("mail-password", "", "Mail server password")
	flags.String("mail-security", string(model.SecuritySSL), "Mail connection security: none, starttls, ssl")
	flags.String("mailbox", "INBOX", "IMAP folder to read")
	flags.String("mail-path", "", "Maildir directory or mbox file for local stores")
	flags.BoolP("allow-insecure-tls", "I", false, "Allow unverified/self-signed TLS certificates")
	flags.IntP("timeout", "t", int(DefaultTimeout/time.Second), "Connection timeout in seconds")
}

// RegisterSMTPFlags attaches the SMTP submission flags.
func RegisterSMTPFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("smtp-host", "", "SMTP host")
	flags.Int("smtp-port", DefaultSMTPPort, "SMTP port")
	flags.String("smtp-username", "", "SMTP username, not required without authentication")
	flags.String("smtp-password", "", "SMTP password, not required without authentication")
	flags.String("smtp-security", string(model.SecurityNone), "SMTP connection security: none, starttls, ssl")
}

// RegisterSelectionFlags attaches the enumeration and filter flags.
func RegisterSelectionFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Int("limit", -1, "Number of messages to select, -1 for all")
	flags.Bool("include-seen", false, "Also select seen messages (IMAP and maildir)")
	flags.String("sort", string(model.SortOldest), "Enumeration order: oldest, newest")
	flags.String("date-since", "", "Only messages on or after YYYY-MM-DD [HH:MM[:SS]] or ISO format")
	flags.String("date-before", "", "Only messages before YYYY-MM-DD [HH:MM[:SS]] or ISO format")
	flags.String("subject-regex", "", "Filter by subject regex")
	flags.String("body-regex", "", "Filter by body regex")
	flags.String("from-regex", "", "Filter by sender regex")
	flags.String("regex-mode", string(filter.ModeAll), "Combine regex filters: all, any")
	flags.Bool("random", false, "Pick one random message among the selected ones")
}

// RegisterActionFlags attaches the post-selection action flags.
func RegisterActionFlags(cmd *cobra.Command) {
	names := make([]string, 0, len(model.Actions))
	for _, a := range model.Actions {
		names = append(names, string(a))
	}
	flags := cmd.Flags()
	flags.StringSlice("action", nil, "Actions for selected messages: "+strings.Join(names, ", "))
	flags.String("action-mode", string(action.ModeAll), "Run all actions or one random action: all, random")
	flags.String("download-dir", DefaultDownloadDir, "Directory for downloaded attachments and messages")
	flags.String("execute-path", "", "Directory attachments are moved to before exec")
}

// RegisterRunFlags attaches the read command's pass flags.
func RegisterRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("run-forever", false, "Repeat the pass until interrupted")
	flags.Int("interval", int(DefaultInterval/time.Second), "Seconds between passes when running forever")
	flags.Bool("pop3-delete", false, "Delete selected messages from the server after their actions (POP3 only)")
	flags.Bool("progress", false, "Show a progress bar while fetching")
	flags.String("format", "text", "Output format: text, json")
	flags.String("export-mbox", "", "Append selected messages to this mbox file")
}

// RegisterSendFlags attaches the composing and delivery flags.
func RegisterSendFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("subject", "", "Subject, overrides the template subject")
	flags.String("body", "", "HTML body")
	flags.String("body-file", "", "File with the body, overrides --body")
	flags.StringArray("body-image", nil, "Inline image file, repeatable")
	flags.StringArray("attach", nil, "Attachment file, repeatable")
	flags.StringArray("cc", nil, "Cc recipient, repeatable")
	flags.StringArray("bcc", nil, "Bcc recipient, repeatable")
	flags.String("template", "", "Template: "+strings.Join(templates.Names(), ", "))
	flags.String("template-params", "", `Template parameters as a JSON object, e.g. '{"name": "Ana"}'`)
	flags.Bool("use-template-subject", false, "Use the template subject instead of the derived one")
	flags.Bool("send-separately", false, "Send one message per recipient")
	flags.Bool("use-regex", false, "Expand * and ? patterns in recipients through the directory API")
	flags.String("api-host", "", "Directory API host (default: SMTP host)")
	flags.Int("api-port", DefaultAPIPort, "Directory API port")
	flags.Bool("save-sent", false, "Append a copy of each sent message to an IMAP folder")
	flags.String("mail-folder", DefaultSentFolder, "IMAP folder for sent copies")
}

// LoadGlobal reads the persistent flags.
func LoadGlobal(v *viper.Viper) (Global, error) {
	g := Global{
		LogLevel:    normalizeLevel(v.GetString("log-level")),
		LogDir:      v.GetString("log-dir"),
		EnvFile:     v.GetString("env-file"),
		UseKeyring:  v.GetBool("use-keyring"),
		AskPassword: v.GetBool("ask-password"),
	}
	switch g.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Global{}, fmt.Errorf("invalid --log-level: %s", g.LogLevel)
	}
	return g, nil
}

// LoadMail reads the source store flags.
func LoadMail(v *viper.Viper) (Mail, error) {
	m := Mail{
		Protocol:         model.Protocol(strings.ToLower(v.GetString("mail-protocol"))),
		Host:             v.GetString("mail-host"),
		Port:             v.GetInt("mail-port"),
		Username:         v.GetString("mail-username"),
		Password:         v.GetString("mail-password"),
		Security:         model.Security(strings.ToLower(v.GetString("mail-security"))),
		AllowInsecureTLS: v.GetBool("allow-insecure-tls"),
		Timeout:          seconds(v.GetInt("timeout"), DefaultTimeout),
		Mailbox:          v.GetString("mailbox"),
		Path:             v.GetString("mail-path"),
	}
	if m.Port == 0 {
		m.Port = DefaultPort(m.Protocol, m.Security)
	}
	if err := validateMail(m); err != nil {
		return Mail{}, err
	}
	return m, nil
}

// LoadSMTP reads the SMTP flags.
func LoadSMTP(v *viper.Viper) (SMTP, error) {
	s := SMTP{
		Host:             v.GetString("smtp-host"),
		Port:             v.GetInt("smtp-port"),
		Username:         v.GetString("smtp-username"),
		Password:         v.GetString("smtp-password"),
		Security:         model.Security(strings.ToLower(v.GetString("smtp-security"))),
		AllowInsecureTLS: v.GetBool("allow-insecure-tls"),
		Timeout:          seconds(v.GetInt("timeout"), DefaultTimeout),
	}
	if s.Host == "" {
		return SMTP{}, fmt.Errorf("--smtp-host is required")
	}
	if err := validatePort("--smtp-port", s.Port); err != nil {
		return SMTP{}, err
	}
	if err := validateSecurity("--smtp-security", s.Security); err != nil {
		return SMTP{}, err
	}
	return s, nil
}

// LoadSelection reads the query and filter flags.
func LoadSelection(v *viper.Viper) (Selection, error) {
	since, err := filter.ParseDate(v.GetString("date-since"))
	if err != nil {
		return Selection{}, fmt.Errorf("--date-since: %w", err)
	}
	before, err := filter.ParseDate(v.GetString("date-before"))
	if err != nil {
		return Selection{}, fmt.Errorf("--date-before: %w", err)
	}

	sort := model.SortOrder(strings.ToLower(v.GetString("sort")))
	switch sort {
	case model.SortOldest, model.SortNewest:
	default:
		return Selection{}, fmt.Errorf("invalid --sort: %s", sort)
	}
	mode := filter.Mode(strings.ToLower(v.GetString("regex-mode")))
	switch mode {
	case filter.ModeAll, filter.ModeAny:
	default:
		return Selection{}, fmt.Errorf("invalid --regex-mode: %s", mode)
	}

	return Selection{
		Query: mailbox.Query{
			IncludeSeen: v.GetBool("include-seen"),
			Since:       since,
			Before:      before,
			Sort:        sort,
			Limit:       v.GetInt("limit"),
			RandomPick:  v.GetBool("random"),
		},
		Filter: filter.Options{
			Since:        since,
			Before:       before,
			SubjectRegex: v.GetString("subject-regex"),
			BodyRegex:    v.GetString("body-regex"),
			FromRegex:    v.GetString("from-regex"),
			Mode:         mode,
		},
	}, nil
}

// LoadActions reads the action flags. The names are checked by action.New.
func LoadActions(v *viper.Viper) action.Options {
	var actions []model.Action
	for _, name := range v.GetStringSlice("action") {
		if name = strings.TrimSpace(name); name != "" {
			actions = append(actions, model.Action(strings.ToLower(name)))
		}
	}
	return action.Options{
		Actions:     actions,
		Mode:        action.Mode(strings.ToLower(v.GetString("action-mode"))),
		DownloadDir: v.GetString("download-dir"),
		ExecutePath: v.GetString("execute-path"),
	}
}

// LoadRun reads the read command's pass flags.
func LoadRun(v *viper.Viper) (Run, error) {
	r := Run{
		Forever:    v.GetBool("run-forever"),
		Interval:   seconds(v.GetInt("interval"), DefaultInterval),
		Delete:     v.GetBool("pop3-delete"),
		Progress:   v.GetBool("progress"),
		Format:     strings.ToLower(v.GetString("format")),
		ExportMbox: v.GetString("export-mbox"),
	}
	switch r.Format {
	case "text", "json":
	default:
		return Run{}, fmt.Errorf("invalid --format: %s", r.Format)
	}
	return r, nil
}

// LoadSend reads the composing flags.
func LoadSend(v *viper.Viper) (Send, error) {
	params, err := templates.ParseParams(v.GetString("template-params"))
	if err != nil {
		return Send{}, err
	}
	s := Send{
		Subject:            v.GetString("subject"),
		Body:               v.GetString("body"),
		BodyFile:           v.GetString("body-file"),
		Images:             v.GetStringSlice("body-image"),
		Attachments:        v.GetStringSlice("attach"),
		Cc:                 v.GetStringSlice("cc"),
		Bcc:                v.GetStringSlice("bcc"),
		Template:           v.GetString("template"),
		TemplateParams:     params,
		UseTemplateSubject: v.GetBool("use-template-subject"),
		SendSeparately:     v.GetBool("send-separately"),
		UseRegex:           v.GetBool("use-regex"),
		APIHost:            v.GetString("api-host"),
		APIPort:            v.GetInt("api-port"),
		SaveSent:           v.GetBool("save-sent"),
		SentFolder:         v.GetString("mail-folder"),
	}
	if s.Template != "" {
		if _, err := templates.Render(s.Template, nil); err != nil {
			return Send{}, err
		}
	}
	if s.SentFolder == "" {
		s.SentFolder = DefaultSentFolder
	}
	return s, nil
}

// SentStore is the IMAP account sent copies go to. Every unset mail-*
// setting falls back to the SMTP one.
func SentStore(v *viper.Viper, smtp SMTP) mailbox.Options {
	opts := mailbox.Options{
		Protocol:         model.ProtocolIMAP,
		Host:             v.GetString("mail-host"),
		Port:             v.GetInt("mail-port"),
		Username:         v.GetString("mail-username"),
		Password:         v.GetString("mail-password"),
		Security:         model.Security(strings.ToLower(v.GetString("mail-security"))),
		AllowInsecureTLS: smtp.AllowInsecureTLS,
		Timeout:          smtp.Timeout,
	}
	if opts.Host == "" {
		opts.Host = smtp.Host
	}
	if opts.Username == "" {
		opts.Username = smtp.Username
	}
	if opts.Password == "" {
		opts.Password = smtp.Password
	}
	if opts.Security == "" {
		opts.Security = model.SecuritySSL
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort(model.ProtocolIMAP, opts.Security)
	}
	return opts
}

// DefaultPort is the well-known port for a protocol and security mode.
// Local stores have none.
func DefaultPort(protocol model.Protocol, security model.Security) int {
	switch protocol {
	case model.ProtocolIMAP:
		if security == model.SecuritySSL {
			return 993
		}
		return 143
	case model.ProtocolPOP3:
		if security == model.SecuritySSL {
			return 995
		}
		return 110
	}
	return 0
}

func validateMail(m Mail) error {
	switch m.Protocol {
	case model.ProtocolIMAP, model.ProtocolPOP3:
		if m.Host == "" {
			return fmt.Errorf("--mail-host is required for %s", m.Protocol)
		}
		if err := validatePort("--mail-port", m.Port); err != nil {
			return err
		}
		return validateSecurity("--mail-security", m.Security)
	case model.ProtocolMaildir, model.ProtocolMbox:
		if m.Path == "" {
			return fmt.Errorf("--mail-path is required for %s", m.Protocol)
		}
		return nil
	default:
		return fmt.Errorf("invalid --mail-protocol: %s", m.Protocol)
	}
}

func validatePort(flag string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535", flag)
	}
	return nil
}

func validateSecurity(flag string, s model.Security) error {
	switch s {
	case model.SecurityNone, model.SecuritySTARTTLS, model.SecuritySSL:
		return nil
	}
	return fmt.Errorf("invalid %s: %s", flag, s)
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return "warn"
	}
	return level
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
