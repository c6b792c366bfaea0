package synthesis

import "github.com/yegors/clara/internal/ai"

func str(desc string) *ai.Schema {
	return &ai.Schema{Type: ai.TypeString, Description: desc}
}

func object(required []string, props map[string]*ai.Schema) *ai.Schema {
	return &ai.Schema{Type: ai.TypeObject, Properties: props, Required: required}
}

func array(desc string, items *ai.Schema) *ai.Schema {
	return &ai.Schema{Type: ai.TypeArray, Description: desc, Items: items}
}

// ClinicalSchema is the response schema of a clinical synthesis
func ClinicalSchema() *ai.Schema {
	return object(
		[]string{"summary", "differential_diagnoses", "risk", "treatment_plan", "safety_alerts", "predictive_insight"},
		map[string]*ai.Schema{
			"summary": str("Detailed clinical narrative of the encounter."),
			"differential_diagnoses": array("", object(
				[]string{"condition", "probability", "reasoning", "icd10"},
				map[string]*ai.Schema{
					"condition":   str(""),
					"probability": str(""),
					"reasoning":   str(""),
					"icd10":       str("Relevant ICD-10 code for this diagnosis."),
				})),
			"risk": object(
				[]string{"score", "level", "analysis"},
				map[string]*ai.Schema{
					"score":    {Type: ai.TypeInteger, Description: "0-100 severity score."},
					"level":    str("Routine, Stable, or Needs Review."),
					"analysis": str(""),
				}),
			"treatment_plan": array("", object(
				[]string{"medication", "purpose", "side_effects", "dosage_instructions", "icd10_link"},
				map[string]*ai.Schema{
					"medication":               str("Drug name."),
					"purpose":                  str("Clinical reason for use relative to the patient's specific condition and linked ICD-10 code."),
					"side_effects":             str("Key pharmacological side effects and adverse reactions."),
					"dosage_instructions":      str(""),
					"dosage_adjustment_reason": str("Reasoning for dosage based on patient age, vitals, or weight."),
					"icd10_link":               str("The specific ICD-10 code (from the diagnosis list) this medication is prescribed for."),
				})),
			"safety_alerts": array("Safety interactions and contraindications according to FDA/NIH clinical databases.", object(
				[]string{"severity", "type", "description", "rationale"},
				map[string]*ai.Schema{
					"severity":    str("Critical, Warning, or Informational."),
					"type":        str("Drug-Drug, Drug-Disease, or Allergy Alert."),
					"description": str(""),
					"rationale":   str("Deep clinical reasoning for the alert."),
				})),
			"predictive_insight": str(""),
			"recommendations": array("", object(
				[]string{"action", "rationale"},
				map[string]*ai.Schema{
					"action":    str(""),
					"rationale": str(""),
				})),
		})
}
