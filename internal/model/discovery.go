package model

// DiscoveryRequest is the input of one pipeline run.
type DiscoveryRequest struct {
	ProjectID      string `json:"project_id"`
	UserQuery      string `json:"user_query"`
	FilterCriteria string `json:"filter_criteria,omitempty"`
	MaxProducts    *int   `json:"max_products,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// ReportStatus is the terminal outcome of a run.
type ReportStatus string

const (
	ReportSuccess ReportStatus = "success"
	ReportError   ReportStatus = "error"
)

// DiscoveryReport is returned to the routing layer.
type DiscoveryReport struct {
	Status             ReportStatus    `json:"status"`
	Message            string          `json:"message"`
	ProductsFound      int             `json:"products_found"`
	ProductsFiltered   int             `json:"products_filtered"`
	ProductsImported   int             `json:"products_imported"`
	ImportedProductIDs []string        `json:"imported_product_ids"`
	ExtractedCriteria  *FilterCriteria `json:"extracted_criteria,omitempty"`
	ErrorType          ErrorType       `json:"error_type,omitempty"`
	RunID              string          `json:"run_id,omitempty"`
}

// ProjectContext is the slice of a project the prompts need.
type ProjectContext struct {
	Name              string
	TargetProductName string
	TargetCategory    string
	Budget            *float64
	Description       string
}

// ContextOf extracts the prompt context from a project.
func ContextOf(p *Project) ProjectContext {
	if p == nil {
		return ProjectContext{}
	}
	return ProjectContext{
		Name:              p.Name,
		TargetProductName: p.TargetProductName,
		TargetCategory:    p.TargetCategory,
		Budget:            p.Budget,
		Description:       p.Description,
	}
}
