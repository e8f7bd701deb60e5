// Package registry holds agent descriptors and executor handles, and
// maintains the capability-to-agents index (spec §4.1, component B).
//
// Grounded on original_source/crates/op-cache/src/agent_registry.rs for
// the data model and taxonomy, and on the teacher's core/discovery.go
// MockDiscovery for the Go concurrency idiom (one RWMutex over plain
// maps, copy-on-read to avoid races).
package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// Capability is an enumerated identifier drawn from a closed taxonomy,
// extensible via an open-ended numbered Custom family (spec §3).
type Capability struct {
	// name is the canonical named variant ("" for Custom).
	name string
	// customID is only meaningful when name == "".
	customID uint32
	isCustom bool
}

// Canonical named capabilities, grouped exactly as
// original_source/crates/op-cache/src/agent_registry.rs declares them.
var (
	// Analysis
	CodeAnalysis       = Capability{name: "code_analysis"}
	SecurityAudit      = Capability{name: "security_audit"}
	PerformanceAnalysis = Capability{name: "performance_analysis"}
	DependencyAnalysis = Capability{name: "dependency_analysis"}

	// Generation
	CodeGeneration         = Capability{name: "code_generation"}
	TestGeneration         = Capability{name: "test_generation"}
	DocumentationGeneration = Capability{name: "documentation_generation"}
	RefactoringSuggestion  = Capability{name: "refactoring_suggestion"}

	// Transformation
	CodeTransformation = Capability{name: "code_transformation"}
	FormatConversion   = Capability{name: "format_conversion"}
	LanguageTranslation = Capability{name: "language_translation"}

	// Data
	DataExtraction = Capability{name: "data_extraction"}
	DataValidation = Capability{name: "data_validation"}
	DataEnrichment = Capability{name: "data_enrichment"}
	Embedding      = Capability{name: "embedding"}

	// Reasoning
	Planning          = Capability{name: "planning"}
	Summarization     = Capability{name: "summarization"}
	QuestionAnswering = Capability{name: "question_answering"}
	Classification    = Capability{name: "classification"}

	// Integration
	ApiCall         = Capability{name: "api_call"}
	DatabaseQuery   = Capability{name: "database_query"}
	FileOperation   = Capability{name: "file_operation"}
	ShellExecution  = Capability{name: "shell_execution"}
)

// allNamed enumerates the closed taxonomy for ordering and iteration.
// Order matches declaration order in agent_registry.rs, which spec §3
// says provides the capability's total order.
var allNamed = []Capability{
	CodeAnalysis, SecurityAudit, PerformanceAnalysis, DependencyAnalysis,
	CodeGeneration, TestGeneration, DocumentationGeneration, RefactoringSuggestion,
	CodeTransformation, FormatConversion, LanguageTranslation,
	DataExtraction, DataValidation, DataEnrichment, Embedding,
	Planning, Summarization, QuestionAnswering, Classification,
	ApiCall, DatabaseQuery, FileOperation, ShellExecution,
}

// ordinal returns the declaration-order index used for total ordering
// by Less. Custom capabilities
// sort after all named ones, ordered by their numeric id.
func (c Capability) ordinal() int {
	for i, n := range allNamed {
		if n.name == c.name && !c.isCustom {
			return i
		}
	}
	if c.isCustom {
		return len(allNamed) + int(c.customID)
	}
	return len(allNamed)
}

// Less implements the total order spec §3 requires.
func (c Capability) Less(other Capability) bool {
	return c.ordinal() < other.ordinal()
}

// Custom constructs an open-ended numbered custom capability.
func Custom(id uint32) Capability {
	return Capability{isCustom: true, customID: id}
}

// Name returns the canonical wire name. Unlike the Rust original (which
// collapses every Custom id to the literal "custom", losing the id on
// the wire), Go includes the id so two different custom capabilities
// never collide under the same name.
func (c Capability) Name() string {
	if c.isCustom {
		return fmt.Sprintf("custom:%d", c.customID)
	}
	return c.name
}

func (c Capability) String() string { return c.Name() }

// synonyms maps recognized aliases (lower-case) to their canonical
// capability, taken from agent_registry.rs's from_str parser.
var synonyms = map[string]Capability{
	"code_analysis": CodeAnalysis, "analysis": CodeAnalysis,
	"security_audit": SecurityAudit, "security": SecurityAudit,
	"performance_analysis": PerformanceAnalysis, "performance": PerformanceAnalysis,
	"dependency_analysis": DependencyAnalysis, "dependencies": DependencyAnalysis,

	"code_generation": CodeGeneration, "codegen": CodeGeneration,
	"test_generation": TestGeneration, "tests": TestGeneration, "testing": TestGeneration,
	"documentation_generation": DocumentationGeneration, "docs": DocumentationGeneration, "documentation": DocumentationGeneration,
	"refactoring_suggestion": RefactoringSuggestion, "refactoring": RefactoringSuggestion, "refactor": RefactoringSuggestion,

	"code_transformation": CodeTransformation, "transform": CodeTransformation,
	"format_conversion": FormatConversion, "format": FormatConversion,
	"language_translation": LanguageTranslation, "translation": LanguageTranslation,

	"data_extraction": DataExtraction, "extraction": DataExtraction,
	"data_validation": DataValidation, "validation": DataValidation,
	"data_enrichment": DataEnrichment, "enrichment": DataEnrichment,
	"embedding": Embedding, "embeddings": Embedding,

	"planning": Planning, "plan": Planning,
	"summarization": Summarization, "summary": Summarization,
	"question_answering": QuestionAnswering, "qa": QuestionAnswering,
	"classification": Classification, "classify": Classification,

	"api_call": ApiCall, "api": ApiCall,
	"database_query": DatabaseQuery, "database": DatabaseQuery, "db": DatabaseQuery,
	"file_operation": FileOperation, "file": FileOperation,
	"shell_execution": ShellExecution, "shell": ShellExecution, "exec": ShellExecution,
}

// ParseCapability parses a case-insensitive capability name or synonym.
// "custom:<id>" parses to the matching Custom capability.
func ParseCapability(s string) (Capability, bool) {
	lower := strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(lower, "custom:") {
		idStr := strings.TrimPrefix(lower, "custom:")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return Capability{}, false
		}
		return Custom(uint32(id)), true
	}
	if c, ok := synonyms[lower]; ok {
		return c, true
	}
	return Capability{}, false
}
