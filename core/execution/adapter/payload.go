// This file contains the execution of the metered payload kinds: scripts,
// entry functions and module bundles, including the deferred publications
// requested by executed code.

package adapter

import (
	"go.dedis.ch/driva/core/execution"
	"go.dedis.ch/driva/core/gas"
	"go.dedis.ch/driva/core/txn"
	"go.dedis.ch/driva/core/vm"
	"go.dedis.ch/driva/core/vmstatus"
	"go.dedis.ch/driva/internal/fail"
)

// executeScriptOrEntryFunction charges the intrinsic cost, validates the
// arguments against the loaded target and executes it with the metered
// session, then runs the success cleanup.
func (a *Adapter) executeScriptOrEntryFunction(session vm.Session,
	meter gas.Meter, md txn.Metadata,
	payload txn.Payload) (execution.Output, *vmstatus.Status) {

	if err := fail.Point("adapter.execute_payload"); err != nil {
		return execution.Output{}, vmstatus.FromError(err)
	}

	if err := meter.ChargeIntrinsic(md.Size); err != nil {
		return execution.Output{}, vmstatus.FromError(err)
	}

	switch p := payload.(type) {
	case txn.Script:
		fn, err := session.LoadScript(p.Code, p.TypeArgs)
		if err != nil {
			return execution.Output{}, vmstatus.FromError(err)
		}

		args, status := combineSignerAndArgs(fn, md.Signers(), p.Args)
		if status != nil {
			return execution.Output{}, status
		}

		err = session.ExecuteScript(p.Code, p.TypeArgs, args, meter)
		if err != nil {
			return execution.Output{}, vmstatus.FromError(err)
		}
	case txn.EntryFunction:
		fn, err := session.LoadFunction(p.Module, p.Function, p.TypeArgs)
		if err != nil {
			return execution.Output{}, vmstatus.FromError(err)
		}

		args, status := combineSignerAndArgs(fn, md.Signers(), p.Args)
		if status != nil {
			return execution.Output{}, status
		}

		err = session.ExecuteEntryFunction(p.Module, p.Function, p.TypeArgs,
			args, meter)
		if err != nil {
			return execution.Output{}, vmstatus.FromError(err)
		}
	default:
		return execution.Output{}, vmstatus.Newf(vmstatus.CodeUnreachable,
			"unknown payload type %T", payload)
	}

	if status := a.resolvePendingPublish(session, meter); status != nil {
		return execution.Output{}, status
	}

	return a.successCleanup(session, meter, md)
}

// combineSignerAndArgs checks the argument count of the target and prepends
// the serialized signer addresses the declaration asks for. The signers are
// consumed head-first: a target declaring fewer signers than provided simply
// receives a prefix of them.
func combineSignerAndArgs(fn vm.Function, signers []txn.Address,
	args [][]byte) ([][]byte, *vmstatus.Status) {

	nSigners := fn.SignerParams()

	if nSigners > len(signers) {
		return nil, vmstatus.Newf(vmstatus.CodeNumberOfArgumentsMismatch,
			"%d signers declared, %d provided", nSigners, len(signers))
	}

	if fn.Params()-nSigners != len(args) {
		return nil, vmstatus.Newf(vmstatus.CodeNumberOfArgumentsMismatch,
			"%d arguments expected, %d provided", fn.Params()-nSigners, len(args))
	}

	combined := make([][]byte, 0, nSigners+len(args))
	for _, signer := range signers[:nSigners] {
		combined = append(combined, signer.Bytes())
	}

	return append(combined, args...), nil
}

// executeModules publishes a module bundle under the sender and runs the
// initializers of the new modules.
func (a *Adapter) executeModules(session vm.Session, meter gas.Meter,
	md txn.Metadata, bundle txn.ModuleBundle) (execution.Output, *vmstatus.Status) {

	if err := fail.Point("adapter.execute_modules"); err != nil {
		return execution.Output{}, vmstatus.FromError(err)
	}

	if err := meter.ChargeIntrinsic(md.Size); err != nil {
		return execution.Output{}, vmstatus.FromError(err)
	}

	modules, status := a.verifyModuleBundle(session, bundle.Modules)
	if status != nil {
		return execution.Output{}, status
	}

	err := session.PublishModules(bundle.Modules, md.Sender, meter)
	if err != nil {
		return execution.Output{}, vmstatus.FromError(err)
	}

	status = a.runModuleInitializers(session, meter, modules,
		[]txn.Address{md.Sender})
	if status != nil {
		return execution.Output{}, status
	}

	return a.successCleanup(session, meter, md)
}

// verifyModuleBundle deserializes the bundle and rejects it when one of the
// modules is already published, as republication must go through the
// compatibility-checked publish request path.
func (a *Adapter) verifyModuleBundle(session vm.Session,
	blobs [][]byte) ([]vm.Module, *vmstatus.Status) {

	modules, status := a.deserializeBundle(blobs)
	if status != nil {
		return nil, status
	}

	for _, m := range modules {
		_, err := session.LoadModule(m.ID())
		if err == nil {
			return nil, vmstatus.Newf(vmstatus.CodeDuplicateModuleName,
				"module '%s' already exists", m.ID())
		}
	}

	return modules, nil
}

// deserializeBundle decodes every module blob of a bundle.
func (a *Adapter) deserializeBundle(blobs [][]byte) ([]vm.Module, *vmstatus.Status) {
	modules := make([]vm.Module, len(blobs))

	for i, blob := range blobs {
		m, err := a.vm.DeserializeModule(blob)
		if err != nil {
			return nil, vmstatus.Newf(vmstatus.CodeDeserializationError,
				"module %d: %v", i, err)
		}

		modules[i] = m
	}

	return modules, nil
}

// runModuleInitializers invokes the initializer of every module of the
// bundle that declares one, with the signers as arguments. The initializer
// must pass the verifier: not externally callable and no return value.
func (a *Adapter) runModuleInitializers(session vm.Session, meter gas.Meter,
	modules []vm.Module, signers []txn.Address) *vmstatus.Status {

	args := make([][]byte, len(signers))
	for i, signer := range signers {
		args[i] = signer.Bytes()
	}

	for _, m := range modules {
		_, err := session.LoadFunction(m.ID(), initModuleName, nil)
		if err != nil {
			// No initializer declared.
			continue
		}

		err = a.vm.VerifyModuleInit(m)
		if err != nil {
			return vmstatus.Newf(vmstatus.CodeVerificationError,
				"initializer of '%s': %v", m.ID(), err)
		}

		err = session.InvokeFunction(m.ID(), initModuleName, nil, args, meter)
		if err != nil {
			return vmstatus.FromError(err)
		}
	}

	return nil
}

// resolvePendingPublish applies the publish request registered by the
// executed code, if any. The claimed module names must match the bundle
// exactly and the destination is the sole signer of the initializers.
func (a *Adapter) resolvePendingPublish(session vm.Session,
	meter gas.Meter) *vmstatus.Status {

	req := session.ExtractPublishRequest()
	if req == nil {
		return nil
	}

	modules, status := a.deserializeBundle(req.Modules)
	if status != nil {
		return status
	}

	if status := validatePublishRequest(modules, req.ExpectedModules); status != nil {
		return status
	}

	var err error
	if req.CheckCompat {
		err = session.PublishModules(req.Modules, req.Destination, meter)
	} else {
		err = session.PublishModulesRelaxed(req.Modules, req.Destination, meter)
	}

	if err != nil {
		return vmstatus.FromError(err)
	}

	return a.runModuleInitializers(session, meter, modules,
		[]txn.Address{req.Destination})
}

// validatePublishRequest checks that the claimed module names and the actual
// names of the bundle are equal as sets.
func validatePublishRequest(modules []vm.Module,
	expected []string) *vmstatus.Status {

	actual := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		actual[m.ID().Name] = struct{}{}
	}

	claimed := make(map[string]struct{}, len(expected))
	for _, name := range expected {
		claimed[name] = struct{}{}
	}

	if len(actual) != len(claimed) {
		return vmstatus.Newf(vmstatus.CodeVerificationError,
			"publish request declares %d module names, bundle has %d",
			len(claimed), len(actual))
	}

	for name := range claimed {
		_, ok := actual[name]
		if !ok {
			return vmstatus.Newf(vmstatus.CodeVerificationError,
				"publish request declares unknown module '%s'", name)
		}
	}

	return nil
}
