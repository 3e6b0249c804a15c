package registry

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/state"
)

// CodeLookup resolves deployed template code by implementation address.
type CodeLookup interface {
	Template(addr common.Address) (interfaces.Template, bool)
}

// Register adds the implementation deployed at impl under the name and version
// it reports. Entries are never overwritten: an existing (name, version) fails
// with DuplicateVersion and leaves the stored implementation untouched.
func Register(w *state.World, code CodeLookup, impl common.Address) (interfaces.Record, error) {
	if impl == (common.Address{}) {
		return interfaces.Record{}, &interfaces.RegistryError{Kind: interfaces.InvalidTarget, Target: impl}
	}
	tmpl, ok := code.Template(impl)
	if !ok {
		return interfaces.Record{}, &interfaces.RegistryError{Kind: interfaces.InvalidTarget, Target: impl}
	}

	name, version, ok := describe(tmpl)
	if !ok || name == "" || version == 0 {
		return interfaces.Record{}, &interfaces.RegistryError{Kind: interfaces.InvalidTarget, Target: impl}
	}

	if _, exists := w.Implementations[name][version]; exists {
		return interfaces.Record{}, &interfaces.RegistryError{Kind: interfaces.DuplicateVersion, Name: name, Version: version}
	}

	if w.Implementations[name] == nil {
		w.Implementations[name] = make(map[interfaces.TemplateVersion]common.Address)
		w.Names = append(w.Names, name)
	}
	w.Implementations[name][version] = impl
	w.Versions[name] = append(w.Versions[name], version)

	if version > w.LatestVersion[name] {
		w.LatestVersion[name] = version
		w.LatestImplementation[name] = impl
	}

	return interfaces.Record{
		Type:           interfaces.TemplateAdded,
		Name:           name,
		Version:        version,
		Implementation: impl,
	}, nil
}

// describe queries the self-reported identity, treating a panic as no answer.
func describe(tmpl interfaces.Template) (name interfaces.TemplateName, version interfaces.TemplateVersion, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return tmpl.Name(), tmpl.Version(), true
}

// Templates returns every registered name in first-registration order.
func Templates(w *state.World) []interfaces.TemplateName {
	return slices.Clone(w.Names)
}

// Versions returns the versions registered under name in registration order.
func Versions(w *state.World, name interfaces.TemplateName) []interfaces.TemplateVersion {
	return slices.Clone(w.Versions[name])
}

// ImplementationOf returns the implementation registered for (name, version).
func ImplementationOf(w *state.World, name interfaces.TemplateName, version interfaces.TemplateVersion) (common.Address, bool) {
	impl, ok := w.Implementations[name][version]
	return impl, ok
}

// Latest returns the highest version registered under name and its implementation.
func Latest(w *state.World, name interfaces.TemplateName) (interfaces.TemplateVersion, common.Address, bool) {
	version, ok := w.LatestVersion[name]
	if !ok {
		return 0, common.Address{}, false
	}
	return version, w.LatestImplementation[name], true
}
