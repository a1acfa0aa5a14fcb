package person

// Source column names. These are internal identifiers for the field map,
// not necessarily literal SQL column names (those are owned by the
// per-deployment source schema and mapped in internal/sourcedb).
const (
	ColUniqueID           = "uniqueid"
	ColUsername           = "username"
	ColGiven              = "given"
	ColSurname            = "surname"
	ColEmailEmployee      = "email_employee"
	ColEmailStudent       = "email_student"
	ColPassword           = "password"
	ColBirthDate          = "birth_date"
	ColFunctions          = "functions"
	ColSchoolIDs          = "school_ids"
	ColPersonNr           = "person_nr"
	ColPersonNrOBF        = "person_nr_obf"
	ColPersonNrStudent    = "person_nr_student"
	ColPersonNrOBFStudent = "person_nr_obf_student"
	ColSapPersnr          = "sap_persnr"
	ColIdentNr            = "ident_nr"
	ColMatrikelnummer     = "matrikelnummer"
	ColBPK                = "bpk"
	ColOrgEinheiten       = "org_einheiten"
	ColBenutzergruppe     = "benutzergruppe"
	ColChipIDEmployee     = "chip_id_employee"
	ColChipIDStudent      = "chip_id_student"
	ColChipIDFurther      = "chip_id_further"
	ColMirfareIDEmployee  = "mirfare_id_employee"
	ColMirfareIDStudent   = "mirfare_id_student"
	ColMirfareIDFurther   = "mirfare_id_further"
	ColAccStEmployee      = "acc_st_employee"
	ColAccStStudent       = "acc_st_student"
	ColAccStFurther       = "acc_st_further"
	ColEmployeeActive     = "employee_active"
	ColStudentActive      = "student_active"
	ColFurtherActive      = "further_active"
)

// Directory attribute names — wire-sensitive, reproduced verbatim. Never
// rename these; the directory schema is an external contract.
const (
	AttrCN              = "cn"
	AttrSN              = "sn"
	AttrGivenName       = "givenName"
	AttrUniqueID        = "uniqueId"
	AttrAccStEmployee   = "accStEmployee"
	AttrAccStStudent    = "accStStudent"
	AttrAccStFurther    = "accStFurther"
	AttrEmployeeActive  = "employeeActive"
	AttrStudentActive   = "studentActive"
	AttrFurtherActive   = "furtherActive"
	AttrBenutzergruppe  = "benutzergruppe"
	AttrBPK             = "bpk"
	AttrChipIDEmployee  = "chipIDEmployee"
	AttrChipIDStudent   = "chipIDStudent"
	AttrChipIDFurther   = "chipIDFurther"
	AttrEmailEmployee   = "emailEmployee"
	AttrEmailStudent    = "emailStudent"
	AttrFunctions       = "functions"
	AttrGebDatum        = "gebDatum"
	AttrIdentNr         = "identNr"
	AttrMatrikelnummer  = "matrikelnummer"
	AttrMirfareEmployee = "mirfareIDEmployee"
	AttrMirfareStudent  = "mirfareIDStudent"
	AttrMirfareFurther  = "mirfareIDFurther"
	AttrOrgEinheiten    = "orgEinheiten"
	AttrPassword        = "idnDistributionPassword"
	AttrPersonNr        = "personNr"
	AttrPersonNrOBF     = "personNrOBF"
	AttrSapPersnr       = "sapPersnr"
	AttrSchulkennzahlen = "schulkennzahlen"
	AttrPersonNrStudent = "personNrStudent"
	AttrPersonNrOBFStu  = "personNrOBFStudent"
	AttrEtlTimestamp    = "etlTimestamp"
)

// ColumnToAttribute is the static bidirectional field map, around 30
// entries, from source column name to directory attribute name.
var ColumnToAttribute = map[string]string{
	ColUniqueID:           AttrUniqueID,
	ColUsername:           AttrCN,
	ColGiven:              AttrGivenName,
	ColSurname:            AttrSN,
	ColEmailEmployee:      AttrEmailEmployee,
	ColEmailStudent:       AttrEmailStudent,
	ColPassword:           AttrPassword,
	ColBirthDate:          AttrGebDatum,
	ColFunctions:          AttrFunctions,
	ColSchoolIDs:          AttrSchulkennzahlen,
	ColPersonNr:           AttrPersonNr,
	ColPersonNrOBF:        AttrPersonNrOBF,
	ColPersonNrStudent:    AttrPersonNrStudent,
	ColPersonNrOBFStudent: AttrPersonNrOBFStu,
	ColSapPersnr:          AttrSapPersnr,
	ColIdentNr:            AttrIdentNr,
	ColMatrikelnummer:     AttrMatrikelnummer,
	ColBPK:                AttrBPK,
	ColOrgEinheiten:       AttrOrgEinheiten,
	ColBenutzergruppe:     AttrBenutzergruppe,
	ColChipIDEmployee:     AttrChipIDEmployee,
	ColChipIDStudent:      AttrChipIDStudent,
	ColChipIDFurther:      AttrChipIDFurther,
	ColMirfareIDEmployee:  AttrMirfareEmployee,
	ColMirfareIDStudent:   AttrMirfareStudent,
	ColMirfareIDFurther:   AttrMirfareFurther,
	ColAccStEmployee:      AttrAccStEmployee,
	ColAccStStudent:       AttrAccStStudent,
	ColAccStFurther:       AttrAccStFurther,
	ColEmployeeActive:     AttrEmployeeActive,
	ColStudentActive:      AttrStudentActive,
	ColFurtherActive:      AttrFurtherActive,
}

// AttributeToColumn is the reverse of ColumnToAttribute, built once at
// init so the Reconciler can translate a directory attribute it read back
// into the source column it corresponds to.
var AttributeToColumn = reverseFieldMap()

func reverseFieldMap() map[string]string {
	rev := make(map[string]string, len(ColumnToAttribute))
	for col, attr := range ColumnToAttribute {
		rev[attr] = col
	}
	return rev
}

// AccountStatusAttributes are the three attributes checked before a
// shared-tenant entry is cascade-deleted.
var AccountStatusAttributes = []string{AttrAccStEmployee, AttrAccStStudent, AttrAccStFurther}

// WatchedFanoutAttributes are the attributes that trigger cross-tenant
// fan-out when changed in a non-shared tenant.
var WatchedFanoutAttributes = []string{AttrGivenName, AttrSN, AttrEmailStudent, AttrPassword}

// PersonObjectClasses are stamped on every newly created person entry.
var PersonObjectClasses = []string{"inetOrgPerson", "phonlinePerson"}

// SyncObjectClass is appended to PersonObjectClasses on every newly
// created entry: every entry this daemon creates is a sync entry.
const SyncObjectClass = "idnSyncstat"
