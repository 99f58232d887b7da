// Package prompts compiles project schemas and extracted document text into
// the single prompt string sent to the AI provider. Compilation is
// deterministic: identical inputs always produce a byte-identical prompt,
// which keeps responses reproducible and the compiler trivially testable.
package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/extractly-ai/extractly-engine/pkg/models"
)

const promptHeader = `You are a data extraction specialist. Extract the schema fields below from the provided documents.

## EXTRACTION APPROACH:
- Extract ONLY the fields and collections specified below
- Use the knowledge documents for context and validation
- Apply extraction rules exactly as specified
- For collections: find identifiers first, then extract properties for each identifier found

`

const outputInstructions = `## REQUIRED OUTPUT FORMAT:
Return a JSON object with this exact structure:
` + "```json" + `
{
  "field_validations": [
    {
      "field_id": "exact-uuid-from-schema",
      "field_name": "Field Name",
      "extracted_value": "extracted data or null",
      "confidence": 85,
      "reasoning": "where and how the value was found",
      "document_source": "source document name",
      "collection_name": "Collection Name (only for collection properties)",
      "collection_record_index": 0
    }
  ]
}
` + "```" + `

## PROCESSING INSTRUCTIONS:
- Use the exact field_id UUIDs from the schema above
- For collection properties include collection_name and a 0-based collection_record_index per record found
- Confidence is an integer percentage from 0 to 100:
  90-100 = value stated explicitly in a document
  70-89 = value derived with minor interpretation
  40-69 = value inferred from indirect evidence
  0-39 = weak guess
- CHOICE fields: if the document value is not one of the declared options, return null. Never coerce or approximate to the nearest option.
- Extract ALL collection records found; do not limit the count artificially
- If no data is found for a field, return null with confidence 0`

// BuildExtractionPrompt renders the full extraction prompt. Section order is
// fixed: document content, schema fields, collections, knowledge documents,
// output instructions. Fields, collections and properties render in
// order_index order with name as tiebreaker.
func BuildExtractionPrompt(schema *models.ProjectSchema, extractedText string, knowledgeDocs []models.KnowledgeDocument, rules []models.ExtractionRule, documentCount int) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)

	sb.WriteString("## DOCUMENT CONTENT TO PROCESS:\n")
	fmt.Fprintf(&sb, "The content below comes from %d document(s). Attribute each extracted value to its source document.\n\n", documentCount)
	sb.WriteString(extractedText)
	sb.WriteString("\n\n")

	writeSchemaFields(&sb, schema.Fields, rules)
	writeCollections(&sb, schema.Collections, rules)
	writeKnowledgeDocs(&sb, knowledgeDocs)

	sb.WriteString(outputInstructions)
	return sb.String()
}

func writeSchemaFields(sb *strings.Builder, fields []models.SchemaField, rules []models.ExtractionRule) {
	if len(fields) == 0 {
		return
	}
	sorted := make([]models.SchemaField, len(fields))
	copy(sorted, fields)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OrderIndex != sorted[j].OrderIndex {
			return sorted[i].OrderIndex < sorted[j].OrderIndex
		}
		return sorted[i].FieldName < sorted[j].FieldName
	})

	sb.WriteString("## SCHEMA FIELDS:\n")
	for _, f := range sorted {
		fmt.Fprintf(sb, "- **%s** (ID: %s)\n", f.FieldName, f.ID)
		fmt.Fprintf(sb, "  Type: %s\n", f.FieldType)
		if f.Description != "" {
			fmt.Fprintf(sb, "  Description: %s\n", f.Description)
		}
		if f.FieldType == models.FieldTypeChoice {
			fmt.Fprintf(sb, "  Valid choices: %s\n", strings.Join(f.ChoiceOptions, ", "))
		}
		writeApplicableRules(sb, f.ID, rules)
		sb.WriteByte('\n')
	}
}

func writeCollections(sb *strings.Builder, collections []models.Collection, rules []models.ExtractionRule) {
	if len(collections) == 0 {
		return
	}
	sorted := make([]models.Collection, len(collections))
	copy(sorted, collections)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].OrderIndex != sorted[j].OrderIndex {
			return sorted[i].OrderIndex < sorted[j].OrderIndex
		}
		return sorted[i].CollectionName < sorted[j].CollectionName
	})

	sb.WriteString("## COLLECTIONS:\n")
	for _, c := range sorted {
		fmt.Fprintf(sb, "### %s\n", c.CollectionName)
		if c.Description != "" {
			fmt.Fprintf(sb, "Description: %s\n", c.Description)
		}
		sb.WriteString("\n**IDENTIFICATION PROCESS:**\n")
		sb.WriteString("1. FIRST: look for identifiers that indicate distinct records of this collection\n")
		sb.WriteString("2. THEN: for each identifier found, extract every property below\n")
		sb.WriteString("3. Number the records with collection_record_index starting from 0\n\n")

		props := make([]models.Property, len(c.Properties))
		copy(props, c.Properties)
		sort.SliceStable(props, func(i, j int) bool {
			if props[i].OrderIndex != props[j].OrderIndex {
				return props[i].OrderIndex < props[j].OrderIndex
			}
			return props[i].PropertyName < props[j].PropertyName
		})

		sb.WriteString("**Properties to extract for each record:**\n")
		for _, p := range props {
			fmt.Fprintf(sb, "- **%s** (ID: %s)\n", p.PropertyName, p.ID)
			fmt.Fprintf(sb, "  Type: %s\n", p.PropertyType)
			if p.Description != "" {
				fmt.Fprintf(sb, "  Description: %s\n", p.Description)
			}
			if p.PropertyType == models.FieldTypeChoice {
				fmt.Fprintf(sb, "  Valid choices: %s\n", strings.Join(p.ChoiceOptions, ", "))
			}
			writeApplicableRules(sb, p.ID, rules)
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}
}

// writeApplicableRules inlines every active rule that targets the given field
// under that field's entry. Rules with no targets are global and apply to all.
func writeApplicableRules(sb *strings.Builder, fieldID uuid.UUID, rules []models.ExtractionRule) {
	for i := range rules {
		if rules[i].AppliesTo(fieldID) {
			fmt.Fprintf(sb, "  Rule (%s): %s\n", rules[i].RuleName, rules[i].RuleContent)
		}
	}
}

func writeKnowledgeDocs(sb *strings.Builder, docs []models.KnowledgeDocument) {
	if len(docs) == 0 {
		return
	}
	sb.WriteString("## KNOWLEDGE DOCUMENTS:\n")
	for _, d := range docs {
		fmt.Fprintf(sb, "### %s\n%s\n\n", d.DisplayName, d.Content)
	}
}
