// Package registry is the in-process registry of assistant tools and the
// contract metadata the planner reasons over: schema versions, risk levels,
// required permissions, and required parameters. Instead of hardcoding the
// tool surface in the planner, tenants register tools here and the planner
// only ever sees what the registry resolves for them.
package registry

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hearcrm/assistant-svc/internal/assist"
)

// RolloutPhase gates which tools are exposed at all. Tools carry a minimum
// phase; a deployment running in an earlier phase never offers them.
type RolloutPhase int

const (
	PhasePilot   RolloutPhase = 1 // read-only assistant
	PhaseAssist  RolloutPhase = 2 // record creation and messaging
	PhaseFull    RolloutPhase = 3 // full surface including destructive tools
)

func (p RolloutPhase) String() string {
	switch p {
	case PhasePilot:
		return "PILOT"
	case PhaseAssist:
		return "ASSIST"
	case PhaseFull:
		return "FULL"
	default:
		return "UNKNOWN"
	}
}

// ToolDefinition is a registered tool and its governing contract.
type ToolDefinition struct {
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	LLMDescription string           `json:"llm_description"`
	SchemaVersion  string           `json:"schema_version"`
	RiskLevel      assist.RiskLevel `json:"risk_level"`

	// RequiresPermissions must all be held by the caller for the tool to
	// appear in their tool surface and for a plan referencing it to pass
	// the permission check.
	RequiresPermissions []string `json:"requires_permissions"`

	// RequiredParameters is the ordered list of parameter names that must
	// be resolved before a plan referencing this tool is executable. Order
	// drives which slot-filling question is asked first.
	RequiredParameters []string `json:"required_parameters"`

	RollbackProcedure string       `json:"rollback_procedure,omitempty"`
	MinPhase          RolloutPhase `json:"min_phase"`
	TenantID          string       `json:"tenant_id,omitempty"`
	RegisteredBy      string       `json:"registered_by,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Registry holds tool definitions keyed by name.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*ToolDefinition
	logger *log.Logger
}

// New creates a registry pre-loaded with the clinic default tools.
func New() *Registry {
	r := &Registry{
		tools:  make(map[string]*ToolDefinition),
		logger: log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags),
	}
	r.registerDefaults()
	return r
}

func (r *Registry) registerDefaults() {
	defaults := []*ToolDefinition{
		{
			Name:                "createParty",
			Description:         "Create a new patient/customer record",
			LLMDescription:      "createParty(name, phone): yeni hasta kaydı oluşturur",
			SchemaVersion:       "1.2.0",
			RiskLevel:           assist.RiskMedium,
			RequiresPermissions: []string{"party:write"},
			RequiredParameters:  []string{"name", "phone"},
			RollbackProcedure:   "Oluşturulan kayıt pasif duruma alınabilir",
			MinPhase:            PhaseAssist,
		},
		{
			Name:                "updateParty",
			Description:         "Update an existing patient/customer record",
			LLMDescription:      "updateParty(party_id, ...fields): mevcut hasta kaydını günceller",
			SchemaVersion:       "1.1.0",
			RiskLevel:           assist.RiskMedium,
			RequiresPermissions: []string{"party:write"},
			RequiredParameters:  []string{"party_id"},
			RollbackProcedure:   "Önceki alan değerleri geri yüklenebilir",
			MinPhase:            PhaseAssist,
		},
		{
			Name:                "searchParty",
			Description:         "Search patient/customer records",
			LLMDescription:      "searchParty(query): isim veya telefona göre hasta arar",
			SchemaVersion:       "1.0.0",
			RiskLevel:           assist.RiskLow,
			RequiresPermissions: []string{"party:read"},
			RequiredParameters:  []string{"query"},
			MinPhase:            PhasePilot,
		},
		{
			Name:                "createSale",
			Description:         "Open a new hearing aid sale",
			LLMDescription:      "createSale(party_id, device_model): yeni cihaz satışı başlatır",
			SchemaVersion:       "1.0.0",
			RiskLevel:           assist.RiskHigh,
			RequiresPermissions: []string{"sale:write"},
			RequiredParameters:  []string{"party_id", "device_model"},
			RollbackProcedure:   "Satış taslak durumundayken iptal edilebilir",
			MinPhase:            PhaseAssist,
		},
		{
			Name:                "createAppointment",
			Description:         "Schedule an appointment",
			LLMDescription:      "createAppointment(party_id, date): randevu oluşturur",
			SchemaVersion:       "1.0.0",
			RiskLevel:           assist.RiskLow,
			RequiresPermissions: []string{"appointment:write"},
			RequiredParameters:  []string{"party_id", "date"},
			RollbackProcedure:   "Randevu silinebilir",
			MinPhase:            PhaseAssist,
		},
		{
			Name:                "sendSMS",
			Description:         "Send an SMS to a patient",
			LLMDescription:      "sendSMS(phone, message): hastaya SMS gönderir",
			SchemaVersion:       "1.0.0",
			RiskLevel:           assist.RiskHigh,
			RequiresPermissions: []string{"sms:send"},
			RequiredParameters:  []string{"phone", "message"},
			MinPhase:            PhaseFull,
		},
		{
			Name:                "deleteRecord",
			Description:         "Permanently delete a record",
			LLMDescription:      "deleteRecord(record_type, record_id): kaydı kalıcı olarak siler",
			SchemaVersion:       "1.0.0",
			RiskLevel:           assist.RiskCritical,
			RequiresPermissions: []string{"record:delete", "admin:write"},
			RequiredParameters:  []string{"record_type", "record_id"},
			MinPhase:            PhaseFull,
		},
	}

	now := time.Now()
	for _, tool := range defaults {
		tool.CreatedAt = now
		tool.UpdatedAt = now
		tool.RegisteredBy = "system"
		r.tools[tool.Name] = tool
	}
}

// Register adds or updates a tool in the registry.
func (r *Registry) Register(tool *ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.SchemaVersion == "" {
		return fmt.Errorf("schema_version is required")
	}
	if tool.RiskLevel.Rank() == 0 {
		return fmt.Errorf("risk_level must be one of LOW, MEDIUM, HIGH, CRITICAL")
	}
	if tool.MinPhase == 0 {
		tool.MinPhase = PhasePilot
	}

	now := time.Now()
	if existing, ok := r.tools[tool.Name]; ok {
		tool.CreatedAt = existing.CreatedAt
	} else {
		tool.CreatedAt = now
	}
	tool.UpdatedAt = now

	r.tools[tool.Name] = tool
	r.logger.Printf("📦 Registered tool: %s (v%s, risk=%s)",
		tool.Name, tool.SchemaVersion, tool.RiskLevel)
	return nil
}

// Get retrieves a tool definition by name. The returned definition is a
// copy; callers cannot mutate registry state through it.
func (r *Registry) Get(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	cp := *tool
	return &cp, true
}

// SchemaVersion returns the current schema version for a tool, or ok=false
// when the tool no longer exists. Used by schema drift checks.
func (r *Registry) SchemaVersion(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return tool.SchemaVersion, true
}

// Delete removes a tool from the registry.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return fmt.Errorf("tool %q not found", name)
	}
	delete(r.tools, name)
	r.logger.Printf("🗑️  Removed tool: %s", name)
	return nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		cp := *tool
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ListForTenant returns global tools plus tools registered by the tenant.
func (r *Registry) ListForTenant(tenantID string) []*ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ToolDefinition, 0)
	for _, tool := range r.tools {
		if tool.TenantID == "" || tool.TenantID == tenantID {
			cp := *tool
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// AllowedToolNames resolves the tool surface for a caller: every tool whose
// required permissions are all held and whose minimum rollout phase is
// reached. The result bounds what the model may propose.
func (r *Registry) AllowedToolNames(permissions []string, phase RolloutPhase) []string {
	held := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		held[p] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name, tool := range r.tools {
		if tool.MinPhase > phase {
			continue
		}
		allowed := true
		for _, p := range tool.RequiresPermissions {
			if !held[p] {
				allowed = false
				break
			}
		}
		if allowed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DescriptionsForLLM renders the prompt fragment listing the given tools.
// Only tools in the allowed set appear; the model never learns about tools
// the caller cannot use.
func (r *Registry) DescriptionsForLLM(allowed []string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range allowed {
		tool, ok := r.tools[name]
		if !ok {
			continue
		}
		desc := tool.LLMDescription
		if desc == "" {
			desc = tool.Description
		}
		fmt.Fprintf(&b, "- %s: %s (risk=%s, requires=[%s])\n",
			tool.Name, desc, tool.RiskLevel, strings.Join(tool.RequiredParameters, ", "))
	}
	return b.String()
}
