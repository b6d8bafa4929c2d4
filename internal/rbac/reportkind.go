package rbac

// ReportKind distinguishes report variants only as far as authorization needs
// to: which permission gates viewing that kind of report.
type ReportKind interface {
	RequiredPermission() string
}

// GenericReport covers the plain report types (clinico, conductual,
// alimenticio, defuncion). Type is the lowercase type slug.
type GenericReport struct {
	Type string
}

// RequiredPermission returns the permission gating this report type.
func (r GenericReport) RequiredPermission() string {
	if r.Type == "" {
		return "ver_reporte"
	}
	return "ver_reporte_" + r.Type
}

// TransferReport is the transfer variant. The area fields ride along for the
// report modules; authorization only looks at the kind.
type TransferReport struct {
	AreaFrom string
	AreaTo   string
}

// RequiredPermission returns the permission gating transfer reports.
func (TransferReport) RequiredPermission() string {
	return "ver_reporte_traslado"
}
