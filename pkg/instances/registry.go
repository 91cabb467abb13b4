// Package instances mantém o catálogo das instâncias TES conhecidas pelo
// dashboard: nomes, URLs, localização e credenciais.
package instances

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/raywall/tes-dashboard/pkg/auth"
	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/tes"
)

// UnknownName é o nome devolvido para URLs fora do catálogo.
const UnknownName = "Unknown TES Instance"

// Location é uma entrada do arquivo de localizações.
type Location struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	City         string  `json:"city"`
	Country      string  `json:"country"`
	Region       string  `json:"region"`
	Status       string  `json:"status"`
	Description  string  `json:"description"`
	InstanceType string  `json:"instanceType"`
}

// Entry é a instância como exposta pela API.
type Entry struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Lon          float64 `json:"lon"`
	City         string  `json:"city,omitempty"`
	Country      string  `json:"country"`
	Region       string  `json:"region"`
	Description  string  `json:"description"`
	InstanceType string  `json:"instanceType"`
}

type coords struct {
	lat, lng float64
	region   string
}

var defaultCoords = map[string]coords{
	"Czech Republic": {49.8175, 15.4730, "EU-Central"},
	"Finland":        {61.9241, 25.7482, "EU-North"},
	"Greece":         {39.0742, 21.8243, "EU-South"},
	"Germany":        {51.1657, 10.4515, "EU-Central"},
	"Canada":         {56.1304, -106.3468, "North America"},
	"Local":          {0, 0, "Local"},
}

// Option customiza o Registry.
type Option func(*Registry)

// WithGetenv troca a fonte das variáveis de ambiente.
func WithGetenv(fn func(string) string) Option {
	return func(r *Registry) { r.getenv = fn }
}

// WithHTTPClient define o client usado na obtenção de tokens OAuth.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.httpClient = c }
}

// Registry não muda após New e pode ser lido de várias goroutines.
type Registry struct {
	instances []tes.Instance
	entries   []Entry
	byURL     map[string]int
	defaults  tes.Credentials
	gateway   string

	getenv     func(string) string
	httpClient *http.Client
}

// New monta o catálogo a partir das instâncias estáticas e do arquivo de
// instâncias. URLs repetidas ficam com a primeira ocorrência.
func New(cfg config.InstancesConf, opts ...Option) (*Registry, error) {
	r := &Registry{getenv: os.Getenv, gateway: normalizeURL(cfg.GatewayURL)}
	for _, opt := range opts {
		opt(r)
	}
	r.defaults = tes.Credentials{
		Token:    r.getenv("TES_TOKEN"),
		User:     r.getenv("TES_USER"),
		Password: r.getenv("TES_PASSWORD"),
	}

	list := append([]config.InstanceConf(nil), cfg.Static...)
	if cfg.File != "" {
		fromFile, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		list = append(list, fromFile...)
	}

	var locations map[string]Location
	if cfg.LocationsFile != "" {
		var err error
		if locations, err = LoadLocations(cfg.LocationsFile); err != nil {
			// localização é cosmética; segue com as coordenadas padrão
			l := logger.Component("instances")
			l.Warn().Err(err).Str("file", cfg.LocationsFile).Msg("falha ao carregar localizações")
		}
	}

	r.byURL = make(map[string]int, len(list))
	seenIDs := make(map[string]bool, len(list))
	for _, ic := range list {
		url := normalizeURL(ic.URL)
		if url == "" {
			continue
		}
		if _, dup := r.byURL[strings.ToLower(url)]; dup {
			continue
		}
		inst := tes.Instance{Name: strings.TrimSpace(ic.Name), URL: url}
		inst.Credentials = r.credentials(cfg.Credentials, inst)

		r.byURL[strings.ToLower(url)] = len(r.instances)
		r.instances = append(r.instances, inst)
		r.entries = append(r.entries, enrich(inst, locations, seenIDs))
	}
	return r, nil
}

// Resolve devolve a instância dona de url. URLs desconhecidas recebem o nome
// UnknownName e as credenciais padrão do ambiente.
func (r *Registry) Resolve(url string) tes.Instance {
	url = normalizeURL(url)
	if i, ok := r.byURL[strings.ToLower(url)]; ok {
		return r.instances[i]
	}
	return tes.Instance{Name: UnknownName, URL: url, Credentials: r.defaults}
}

// Instances devolve uma cópia das instâncias do catálogo.
func (r *Registry) Instances() []tes.Instance {
	return append([]tes.Instance(nil), r.instances...)
}

// Entries devolve as instâncias enriquecidas com localização.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Gateway é a URL do gateway federado, vazia quando não configurada.
func (r *Registry) Gateway() string { return r.gateway }

func (r *Registry) credentials(confs map[string]config.CredentialConf, inst tes.Instance) tes.Credentials {
	cc, ok := confs[inst.Name]
	if !ok {
		cc, ok = confs[inst.URL]
	}
	if !ok {
		return r.defaults
	}

	cred := tes.Credentials{Token: cc.Token, User: cc.User, Password: cc.Password}
	if cc.TokenURL != "" {
		cred.OAuth = auth.NewClientCredentialsManager(auth.ClientCredentials{
			TokenURL:     cc.TokenURL,
			ClientID:     cc.ClientID,
			ClientSecret: cc.ClientSecret,
		}, r.httpClient)
	}
	if cred.Token == "" && cred.User == "" && cred.OAuth == nil {
		return r.defaults
	}
	return cred
}

// LoadFile lê um arquivo de instâncias no formato `nome,url` por linha.
func LoadFile(path string) ([]config.InstanceConf, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("falha ao abrir arquivo de instâncias %s: %w", path, err)
	}
	defer f.Close()
	return ParseInstances(f)
}

// ParseInstances ignora linhas vazias, comentários (#) e linhas sem vírgula.
// Em URLs com '@' vale apenas o trecho após o último '@'.
func ParseInstances(r io.Reader) ([]config.InstanceConf, error) {
	var out []config.InstanceConf
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, url, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		url = strings.TrimSpace(url)
		if i := strings.LastIndex(url, "@"); i >= 0 {
			url = url[i+1:]
			if !strings.HasPrefix(url, "http") {
				url = "https://" + url
			}
		}
		out = append(out, config.InstanceConf{Name: strings.TrimSpace(name), URL: strings.TrimRight(url, "/")})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("falha ao ler instâncias: %w", err)
	}
	return out, nil
}

// LoadLocations lê a lista JSON de localizações, indexada por URL e por nome
// em minúsculas.
func LoadLocations(path string) (map[string]Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseLocations(data)
}

func ParseLocations(data []byte) (map[string]Location, error) {
	var list []Location
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errors.New("arquivo de localizações deve ser uma lista JSON")
	}
	out := make(map[string]Location, len(list)*2)
	for _, loc := range list {
		if key := strings.ToLower(strings.TrimRight(loc.URL, "/")); key != "" {
			out[key] = loc
		}
		if key := strings.ToLower(loc.Name); key != "" {
			out[key] = loc
		}
	}
	return out, nil
}

func enrich(inst tes.Instance, locations map[string]Location, seen map[string]bool) Entry {
	loc, found := locations[strings.ToLower(inst.URL)]
	if !found {
		loc, found = locations[strings.ToLower(inst.Name)]
	}

	country := inferCountry(inst)
	c, ok := defaultCoords[country]
	if !ok {
		c = coords{region: "Unknown"}
	}

	e := Entry{
		Name:         inst.Name,
		URL:          inst.URL,
		Lat:          c.lat,
		Lng:          c.lng,
		Country:      country,
		Region:       c.region,
		Description:  inst.Name,
		InstanceType: "compute",
	}
	base := slug(inst.Name)
	if found {
		if loc.ID != "" {
			base = loc.ID
		}
		if loc.Lat != 0 {
			e.Lat = loc.Lat
		}
		if loc.Lng != 0 {
			e.Lng = loc.Lng
		}
		if loc.Country != "" {
			e.Country = loc.Country
		}
		if loc.Region != "" {
			e.Region = loc.Region
		}
		if loc.Description != "" {
			e.Description = loc.Description
		}
		if loc.InstanceType != "" {
			e.InstanceType = loc.InstanceType
		}
		e.City = loc.City
	}
	e.Lon = e.Lng

	id := base
	for n := 1; seen[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	seen[id] = true
	e.ID = id
	return e
}

func inferCountry(inst tes.Instance) string {
	name, url := inst.Name, strings.ToLower(inst.URL)
	switch {
	case strings.Contains(name, "CZ") || strings.Contains(name, "Czech"):
		return "Czech Republic"
	case strings.Contains(name, "FI") || strings.Contains(name, "Finland"):
		return "Finland"
	case strings.Contains(name, "GR") || strings.Contains(name, "Greece"):
		return "Greece"
	case strings.Contains(name, "DE") || strings.Contains(name, "Germany") || strings.Contains(url, "denbi"):
		return "Germany"
	case strings.Contains(name, "NA") || strings.Contains(name, "North America") || strings.Contains(url, "calculquebec"):
		return "Canada"
	case strings.Contains(url, "localhost"):
		return "Local"
	}
	return "Unknown"
}

var slugReplacer = strings.NewReplacer(" ", "-", "@", "", "(", "", ")", "", "/", "-")

func slug(name string) string {
	return slugReplacer.Replace(strings.ToLower(name))
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
