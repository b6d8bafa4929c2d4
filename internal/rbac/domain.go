package rbac

import (
	"strings"
	"time"
)

// Permission represents an atomic capability. Category and criticality are
// derived from the name, never stored.
type Permission struct {
	ID   int64  `json:"id_permiso"`
	Name string `json:"nombre_permiso"`
}

// Role represents a named permission grouping. Every user holds exactly one.
type Role struct {
	ID        int64     `json:"id_rol"`
	Name      string    `json:"nombre_rol"`
	Active    bool      `json:"activo"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Assignment ties a permission to a role.
type Assignment struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// CategoryGeneral is the fallback bucket for permissions matching no rule.
const CategoryGeneral = "general"

type categoryRule struct {
	substring string
	category  string
}

// categoryRules assigns every permission to exactly one category. Evaluated
// top to bottom, most specific substring first: reporte_traslado must win
// before the generic reporte rule. Extend by inserting new rules above the
// less specific ones.
var categoryRules = []categoryRule{
	{"reporte_traslado", "reportes_traslado"},
	{"reporte_clinico", "reportes_clinicos"},
	{"reporte_conductual", "reportes_conductuales"},
	{"reporte_alimenticio", "reportes_alimenticios"},
	{"reporte_defuncion", "reportes_defuncion"},
	{"reporte", "reportes_general"},
	{"alta", "altas"},
	{"baja", "bajas"},
}

// criticalMarkers signal destructive or administrative intent in a
// permission's name.
var criticalMarkers = []string{"admin", "eliminar", "delete", "sistema"}

// Category evaluates the ordered rule table against the permission name.
func (p Permission) Category() string {
	name := strings.ToLower(p.Name)
	for _, rule := range categoryRules {
		if strings.Contains(name, rule.substring) {
			return rule.category
		}
	}
	return CategoryGeneral
}

// Critical reports whether the permission's name implies destructive or
// administrative capability. Critical permissions cannot be deleted.
func (p Permission) Critical() bool {
	name := strings.ToLower(p.Name)
	for _, marker := range criticalMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

// IsRead reports whether the permission grants read access.
func (p Permission) IsRead() bool {
	return nameContainsAny(p.Name, "ver", "leer", "read")
}

// IsWrite reports whether the permission grants creation access.
func (p Permission) IsWrite() bool {
	return nameContainsAny(p.Name, "registrar", "crear", "generar", "write")
}

// IsEdit reports whether the permission grants update access.
func (p Permission) IsEdit() bool {
	return nameContainsAny(p.Name, "editar", "actualizar", "edit")
}

// IsDelete reports whether the permission grants deletion access.
func (p Permission) IsDelete() bool {
	return nameContainsAny(p.Name, "eliminar", "delete")
}

func nameContainsAny(name string, markers ...string) bool {
	lowered := strings.ToLower(name)
	for _, marker := range markers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
