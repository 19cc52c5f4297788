package clinical

// Canonical comorbidity codes. The vocabulary follows the NHAMCS survey
// columns the risk model was trained against.
const (
	CondCOPD        = "COPD"
	CondCHF         = "CHF"
	CondCAD         = "CAD"
	CondAsthma      = "ASTHMA"
	CondCKD         = "CKD"
	CondESRD        = "ESRD"
	CondHTN         = "HTN"
	CondDiabetes    = "DIABTYP0"
	CondDiabetesT1  = "DIABTYP1"
	CondDiabetesT2  = "DIABTYP2"
	CondCancer      = "CANCER"
	CondDepression  = "DEPRN"
	CondCVD         = "CEBVD"
	CondDementia    = "ALZHD"
	CondHyperlipid  = "HYPLIPID"
	CondObesity     = "OBESITY"
	CondSleepApnea  = "OSA"
	CondOsteoprsis  = "OSTPRSIS"
	CondHIV         = "EDHIV"
	CondAlcoholUse  = "ETOHAB"
	CondSubstanceAb = "SUBSTAB"
	CondInjury      = "INJURY"
)

// ConditionCodes is the fixed vocabulary order. Feature vectors, summaries
// and stats lookups all iterate in this order for determinism.
var ConditionCodes = []string{
	CondCOPD, CondCHF, CondCAD, CondAsthma, CondCKD, CondESRD, CondHTN,
	CondDiabetes, CondDiabetesT1, CondDiabetesT2, CondCancer, CondDepression,
	CondCVD, CondDementia, CondHyperlipid, CondObesity, CondSleepApnea,
	CondOsteoprsis, CondHIV, CondAlcoholUse, CondSubstanceAb, CondInjury,
}

var conditionNames = map[string]string{
	CondCOPD:        "COPD",
	CondCHF:         "Heart Failure (CHF)",
	CondCAD:         "Coronary Artery Disease",
	CondAsthma:      "Asthma",
	CondCKD:         "Chronic Kidney Disease",
	CondESRD:        "End-Stage Renal Disease",
	CondHTN:         "Hypertension",
	CondDiabetes:    "Diabetes",
	CondDiabetesT1:  "Diabetes Type 1",
	CondDiabetesT2:  "Diabetes Type 2",
	CondCancer:      "Cancer",
	CondDepression:  "Depression",
	CondCVD:         "Stroke / Cerebrovascular",
	CondDementia:    "Alzheimer's / Dementia",
	CondHyperlipid:  "Hyperlipidemia",
	CondObesity:     "Obesity",
	CondSleepApnea:  "Sleep Apnea",
	CondOsteoprsis:  "Osteoporosis",
	CondHIV:         "HIV",
	CondAlcoholUse:  "Alcohol Use Disorder",
	CondSubstanceAb: "Substance Use Disorder",
	CondInjury:      "Injury / Trauma",
}

// IsCondition reports whether code is part of the canonical vocabulary.
func IsCondition(code string) bool {
	_, ok := conditionNames[code]
	return ok
}

// ConditionName returns the display name for a canonical code, or the
// code itself when unknown.
func ConditionName(code string) string {
	if name, ok := conditionNames[code]; ok {
		return name
	}
	return code
}
