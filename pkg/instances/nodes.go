package instances

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNodeNotFound = errors.New("node não encontrado")
	ErrNodeExists   = errors.New("node já existe")
	ErrInvalidNode  = errors.New("node inválido")
)

type Capacity struct {
	CPU     int    `json:"cpu"`
	Memory  string `json:"memory"`
	Storage string `json:"storage"`
}

// Node é uma entrada gerenciável do arquivo de localizações. Os campos são um
// superconjunto de Location, então o mesmo arquivo serve aos dois.
type Node struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Country      string   `json:"country"`
	City         string   `json:"city,omitempty"`
	IP           string   `json:"ip"`
	Lat          float64  `json:"lat"`
	Lng          float64  `json:"lng"`
	Lon          float64  `json:"lon"`
	Status       string   `json:"status"`
	Tasks        int      `json:"tasks"`
	Workflows    int      `json:"workflows"`
	Description  string   `json:"description"`
	InstanceType string   `json:"instanceType,omitempty"`
	Capacity     Capacity `json:"capacity"`
	Version      string   `json:"version"`
	Region       string   `json:"region"`
	Latency      int      `json:"latency"`
}

// NewNode é o corpo de criação. Ausentes recebem os valores padrão de Add.
type NewNode struct {
	ID          string  `json:"id" validate:"required"`
	Name        string  `json:"name" validate:"required"`
	URL         string  `json:"url" validate:"required"`
	Country     string  `json:"country" validate:"required"`
	IP          string  `json:"ip"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description"`
	CPU         *int    `json:"cpu"`
	Memory      string  `json:"memory"`
	Storage     string  `json:"storage"`
	Version     string  `json:"version"`
	Region      string  `json:"region"`
	Latency     *int    `json:"latency"`
}

// NodeUpdate altera só os campos presentes.
type NodeUpdate struct {
	Name        *string         `json:"name"`
	URL         *string         `json:"url"`
	Country     *string         `json:"country"`
	Description *string         `json:"description"`
	Region      *string         `json:"region"`
	IP          *string         `json:"ip"`
	Lat         *float64        `json:"lat"`
	Lng         *float64        `json:"lng"`
	Lon         *float64        `json:"lon"`
	Version     *string         `json:"version"`
	Capacity    *CapacityUpdate `json:"capacity"`
}

type CapacityUpdate struct {
	CPU     *int    `json:"cpu"`
	Memory  *string `json:"memory"`
	Storage *string `json:"storage"`
}

// NodeStore mantém a lista de nodes, gravada em path a cada mudança.
// path vazio deixa a lista só em memória.
type NodeStore struct {
	mu       sync.RWMutex
	path     string
	nodes    []Node
	validate *validator.Validate
}

// OpenNodeStore lê path. Arquivo inexistente começa vazio.
func OpenNodeStore(path string) (*NodeStore, error) {
	s := &NodeStore{path: path, validate: validator.New()}
	s.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.nodes); err != nil {
		return nil, errors.New("arquivo de localizações deve ser uma lista JSON")
	}
	return s, nil
}

func (s *NodeStore) List() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Node{}, s.nodes...)
}

func (s *NodeStore) Get(id string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(id); i >= 0 {
		return s.nodes[i], nil
	}
	return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
}

func (s *NodeStore) Add(in NewNode) (Node, error) {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return Node{}, fmt.Errorf("%w: Missing required field: %s", ErrInvalidNode, verrs[0].Field())
		}
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidNode, err)
	}

	n := Node{
		ID:          in.ID,
		Name:        in.Name,
		URL:         strings.TrimRight(in.URL, "/"),
		Country:     in.Country,
		IP:          orDefault(in.IP, "0.0.0.0"),
		Lat:         in.Lat,
		Lng:         in.Lng,
		Lon:         in.Lng,
		Status:      StatusHealthy,
		Description: orDefault(in.Description, "TES instance at "+in.Country),
		Capacity:    Capacity{CPU: 100, Memory: orDefault(in.Memory, "100GB"), Storage: orDefault(in.Storage, "1TB")},
		Version:     orDefault(in.Version, "v1.0.0"),
		Region:      orDefault(in.Region, "Unknown"),
		Latency:     100,
	}
	if in.CPU != nil {
		n.Capacity.CPU = *in.CPU
	}
	if in.Latency != nil {
		n.Latency = *in.Latency
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index(n.ID) >= 0 {
		return Node{}, fmt.Errorf("%w: Node with ID %s already exists", ErrNodeExists, n.ID)
	}
	if err := s.commit(append(append([]Node(nil), s.nodes...), n)); err != nil {
		return Node{}, err
	}
	return n, nil
}

func (s *NodeStore) Update(id string, u NodeUpdate) (Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	n := s.nodes[i]
	setString(&n.Name, u.Name)
	setString(&n.URL, u.URL)
	setString(&n.Country, u.Country)
	setString(&n.Description, u.Description)
	setString(&n.Region, u.Region)
	setString(&n.IP, u.IP)
	setString(&n.Version, u.Version)
	setFloat(&n.Lat, u.Lat)
	setFloat(&n.Lng, u.Lng)
	setFloat(&n.Lon, u.Lon)
	if c := u.Capacity; c != nil {
		if c.CPU != nil {
			n.Capacity.CPU = *c.CPU
		}
		setString(&n.Capacity.Memory, c.Memory)
		setString(&n.Capacity.Storage, c.Storage)
	}
	n.URL = strings.TrimRight(n.URL, "/")

	next := append([]Node(nil), s.nodes...)
	next[i] = n
	if err := s.commit(next); err != nil {
		return Node{}, err
	}
	return n, nil
}

// Remove apaga o node e devolve quantos restaram.
func (s *NodeStore) Remove(id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return 0, fmt.Errorf("%w: Node with ID %s not found", ErrNodeNotFound, id)
	}
	next := append(append([]Node(nil), s.nodes[:i]...), s.nodes[i+1:]...)
	if err := s.commit(next); err != nil {
		return 0, err
	}
	return len(next), nil
}

// index deve ser chamado com s.mu travado.
func (s *NodeStore) index(id string) int {
	for i, n := range s.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// commit grava next e só então troca a lista em memória.
func (s *NodeStore) commit(next []Node) error {
	if s.path != "" {
		if err := writeNodes(s.path, next); err != nil {
			return fmt.Errorf("falha ao gravar %s: %w", s.path, err)
		}
	}
	s.nodes = next
	return nil
}

func writeNodes(path string, nodes []Node) error {
	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
