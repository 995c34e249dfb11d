package classify

// Kind selects the starting deductibility likelihood of a rule
type Kind int

const (
	KindGeneral Kind = iota
	KindMedical
	KindTransportation
)

func (k Kind) String() string {
	switch k {
	case KindMedical:
		return "medical"
	case KindTransportation:
		return "transportation"
	default:
		return "general"
	}
}

// Rule maps keywords to a category. Keywords match whole words after
// uppercasing and collapsing punctuation, so "RX" does not match "RXBAR".
type Rule struct {
	Category    string
	Subcategory string
	Kind        Kind
	Keywords    []string
}

// CategoryOther is returned when no rule matches
const CategoryOther = "Other"

// DefaultRules is checked top to bottom and the first match wins. Specific
// rules must stay above the generic ones they overlap with (UBER EATS above
// UBER, MEDICAL SUPPLY above MEDICAL).
var DefaultRules = []Rule{
	// Overlapping merchants that are not what their generic keyword suggests
	{Category: "Meals", Subcategory: "Delivery", Kind: KindGeneral, Keywords: []string{"UBER EATS", "UBEREATS", "DOORDASH", "GRUBHUB"}},
	{Category: "Medical Care", Subcategory: "Medical Transport", Kind: KindMedical, Keywords: []string{"AMBULANCE", "PARATRANSIT", "MEDICAL TRANSPORT", "NEMT"}},

	{Category: "Medical Care", Subcategory: "Medical Supplies", Kind: KindMedical, Keywords: []string{
		"MEDICAL SUPPLY", "MEDICAL SUPPLIES", "DURABLE MEDICAL", "DME", "OXYGEN", "WHEELCHAIR", "MOBILITY", "ORTHOPEDIC", "HEARING AID",
	}},
	{Category: "Medical Care", Subcategory: "Pharmacy", Kind: KindMedical, Keywords: []string{
		"PHARMACY", "CVS", "WALGREENS", "RITE AID", "DUANE READE", "RX", "DRUG", "DRUGS", "PRESCRIPTION", "PRESCRIPTIONS",
	}},
	{Category: "Medical Care", Subcategory: "Dental", Kind: KindMedical, Keywords: []string{"DENTAL", "DENTIST", "ORTHODONTICS"}},
	{Category: "Medical Care", Subcategory: "Vision", Kind: KindMedical, Keywords: []string{"OPTOMETRY", "OPTOMETRIST", "OPTICAL", "EYE CARE", "VISION CENTER"}},
	{Category: "Medical Care", Subcategory: "Lab", Kind: KindMedical, Keywords: []string{"LABCORP", "QUEST DIAGNOSTICS", "LABORATORY", "RADIOLOGY", "IMAGING"}},
	{Category: "Medical Care", Subcategory: "Therapy", Kind: KindMedical, Keywords: []string{"PHYSICAL THERAPY", "PHYSIOTHERAPY", "OCCUPATIONAL THERAPY", "REHAB", "REHABILITATION"}},
	{Category: "Medical Care", Subcategory: "Hospital", Kind: KindMedical, Keywords: []string{"HOSPITAL", "URGENT CARE", "EMERGENCY ROOM", "MEDICAL CENTER"}},
	{Category: "Caregiving", Subcategory: "Home Care", Kind: KindMedical, Keywords: []string{
		"HOME HEALTH", "HOME CARE", "HOMECARE", "HOSPICE", "NURSING", "ADULT DAY", "ASSISTED LIVING", "CAREGIVER", "RESPITE",
	}},
	{Category: "Medical Care", Subcategory: "Doctor Visit", Kind: KindMedical, Keywords: []string{
		"CLINIC", "PHYSICIAN", "PHYSICIANS", "DOCTOR", "MEDICAL GROUP", "PEDIATRICS", "CARDIOLOGY", "DERMATOLOGY", "NEUROLOGY",
	}},
	// Generic medical fallback, below every specific medical rule
	{Category: "Medical Care", Subcategory: "", Kind: KindMedical, Keywords: []string{"MEDICAL", "MEDICINE", "HEALTHCARE", "HEALTH"}},

	{Category: "Transportation", Subcategory: "Rideshare", Kind: KindTransportation, Keywords: []string{"UBER", "LYFT", "TAXI", "CAB"}},
	{Category: "Transportation", Subcategory: "Parking", Kind: KindTransportation, Keywords: []string{"PARKING", "PARKMOBILE", "SPOTHERO"}},
	{Category: "Transportation", Subcategory: "Mileage", Kind: KindTransportation, Keywords: []string{"MILEAGE"}},
	{Category: "Transportation", Subcategory: "Transit", Kind: KindTransportation, Keywords: []string{"TRANSIT", "METRO", "AMTRAK", "TOLL", "TOLLS"}},
	{Category: "Transportation", Subcategory: "Fuel", Kind: KindTransportation, Keywords: []string{"SHELL", "CHEVRON", "EXXON", "EXXONMOBIL", "FUEL", "GAS STATION"}},

	{Category: "Groceries", Subcategory: "", Kind: KindGeneral, Keywords: []string{"GROCERY", "KROGER", "SAFEWAY", "WHOLE FOODS", "TRADER JOE S", "ALDI", "PUBLIX"}},
	{Category: "Household", Subcategory: "", Kind: KindGeneral, Keywords: []string{"TARGET", "WALMART", "COSTCO", "AMAZON", "HOME DEPOT", "LOWES"}},
	{Category: "Meals", Subcategory: "", Kind: KindGeneral, Keywords: []string{"RESTAURANT", "CAFE", "COFFEE", "STARBUCKS", "PIZZA"}},
}
