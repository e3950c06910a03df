// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package bootloader_test

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/installkit/installkit/bootloader"
	"github.com/installkit/installkit/config"
	"github.com/installkit/installkit/kernelargs"
	sysroottesting "github.com/installkit/installkit/sysroot/testing"
)

type efiSuite struct {
	testing.IsolationSuite

	config *config.Config
	runner *sysroottesting.StubRunner
}

var _ = gc.Suite(&efiSuite{})

func (s *efiSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.config = config.Default()
	s.runner = &sysroottesting.StubRunner{Stub: &testing.Stub{}}
	s.PatchValue(bootloader.SysFwPlatformSize, filepath.Join(c.MkDir(), "missing"))
}

func (s *efiSuite) newLoader(c *gc.C, args string) *bootloader.EFIGRUB {
	return bootloader.NewEFIGRUB(s.config, kernelargs.Parse(args), s.runner)
}

func (s *efiSuite) patchFirmwareSize(c *gc.C, size string) {
	path := filepath.Join(c.MkDir(), "fw_platform_size")
	err := os.WriteFile(path, []byte(size+"\n"), 0644)
	c.Assert(err, jc.ErrorIsNil)
	s.PatchValue(bootloader.SysFwPlatformSize, path)
}

func (s *efiSuite) TestAddBootTargetsPartition(c *gc.C) {
	loader := s.newLoader(c, "")
	err := loader.AddBootTargets(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCalls(c, []testing.StubCall{{
		FuncName: "Run",
		Args: []interface{}{"/mnt/sysroot", "efibootmgr", []string{
			"-c", "-w", "-L", "Linux",
			"-d", "/dev/sda", "-p", "1",
			"-l", "\\EFI\\linux\\BOOTx64.efi",
		}},
	}})
}

func (s *efiSuite) TestAddBootTargets32BitFirmware(c *gc.C) {
	s.patchFirmwareSize(c, "32")
	loader := s.newLoader(c, "")
	err := loader.AddBootTargets(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	call := s.runner.Calls()[0]
	args := call.Args[2].([]string)
	c.Check(args[len(args)-1], gc.Equals, "\\EFI\\linux\\BOOTia32.efi")
}

func (s *efiSuite) TestAddBootTargetsAarch64(c *gc.C) {
	loader := bootloader.NewAarch64EFIGRUB(s.config, kernelargs.Parse(""), s.runner)
	err := loader.AddBootTargets(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	call := s.runner.Calls()[0]
	args := call.Args[2].([]string)
	c.Check(args[len(args)-1], gc.Equals, "\\EFI\\linux\\BOOTAA64.efi")
}

func (s *efiSuite) TestAddBootTargetsArm(c *gc.C) {
	loader := bootloader.NewArmEFIGRUB(s.config, kernelargs.Parse(""), s.runner)
	err := loader.AddBootTargets(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	call := s.runner.Calls()[0]
	args := call.Args[2].([]string)
	c.Check(args[len(args)-1], gc.Equals, "\\EFI\\linux\\grubarm.efi")
}

func (s *efiSuite) TestAddBootTargetsMDArray(c *gc.C) {
	loader := s.newLoader(c, "")
	err := loader.AddBootTargets(bootloader.Device{
		Type: "mdarray",
		Parents: []bootloader.Device{
			{Type: "partition", Disk: "/dev/sda", Partition: 1},
			{Type: "partition", Disk: "/dev/sdb", Partition: 1},
		},
	})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCallNames(c, "Run", "Run")
	c.Check(s.runner.Calls()[0].Args[2].([]string)[5], gc.Equals, "/dev/sda")
	c.Check(s.runner.Calls()[1].Args[2].([]string)[5], gc.Equals, "/dev/sdb")
}

func (s *efiSuite) TestAddBootTargetsUnsupportedDevice(c *gc.C) {
	loader := s.newLoader(c, "")
	err := loader.AddBootTargets(bootloader.Device{Type: "luks"})
	c.Assert(err, jc.Satisfies, errors.IsNotSupported)
	s.runner.CheckNoCalls(c)
}

func (s *efiSuite) TestAddBootTargetsFirmwareFailure(c *gc.C) {
	s.runner.Codes = []int{5}
	loader := s.newLoader(c, "")
	err := loader.AddBootTargets(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, gc.ErrorMatches, "failed to set new efi boot target.*")
	c.Check(bootloader.IsBootLoaderError(err), jc.IsTrue)
}

func (s *efiSuite) TestAddBootTargetsProductLabel(c *gc.C) {
	s.config.Product.Name = "Fancy-Edition-10"
	loader := s.newLoader(c, "")
	err := loader.AddBootTargets(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	args := s.runner.Calls()[0].Args[2].([]string)
	c.Check(args[3], gc.Equals, "Fancy")
}

func (s *efiSuite) TestSkipsFirmwareForImageInstall(c *gc.C) {
	s.config.Target.IsHardware = false
	loader := s.newLoader(c, "")
	err := loader.AddBootTargets(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckNoCalls(c)
}

func (s *efiSuite) TestSkipsFirmwareForNoefi(c *gc.C) {
	loader := s.newLoader(c, "quiet noefi rhgb")
	err := loader.AddBootTargets(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckNoCalls(c)
}

const efibootmgrOutput = `BootCurrent: 0002
Timeout: 1 seconds
BootOrder: 0002,0001,0000
Boot0000* Windows Boot Manager
Boot0001* Linux
Boot0002* UEFI: Built-in EFI Shell
`

func (s *efiSuite) TestRemoveBootTargets(c *gc.C) {
	s.runner.Outputs = []string{efibootmgrOutput}
	loader := s.newLoader(c, "")
	err := loader.RemoveBootTargets()
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCalls(c, []testing.StubCall{{
		FuncName: "RunCapture",
		Args:     []interface{}{"/mnt/sysroot", "efibootmgr", []string{}},
	}, {
		FuncName: "Run",
		Args:     []interface{}{"/mnt/sysroot", "efibootmgr", []string{"-b", "0001", "-B"}},
	}})
}

func (s *efiSuite) TestRemoveBootTargetsNoMatches(c *gc.C) {
	s.runner.Outputs = []string{"BootCurrent: 0000\nBoot0000* Windows Boot Manager\n"}
	loader := s.newLoader(c, "")
	err := loader.RemoveBootTargets()
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCallNames(c, "RunCapture")
}

func (s *efiSuite) TestRemoveBootTargetsMalformedSlot(c *gc.C) {
	s.runner.Outputs = []string{"Boot01* Linux\n"}
	loader := s.newLoader(c, "")
	err := loader.RemoveBootTargets()
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCallNames(c, "RunCapture")
}

func (s *efiSuite) TestRemoveBootTargetsFirmwareFailure(c *gc.C) {
	s.runner.Outputs = []string{efibootmgrOutput}
	s.runner.Codes = []int{0, 2}
	loader := s.newLoader(c, "")
	err := loader.RemoveBootTargets()
	c.Assert(err, gc.ErrorMatches, "failed to remove old efi boot entry.*")
	c.Check(bootloader.IsBootLoaderError(err), jc.IsTrue)
}

func (s *efiSuite) TestInstallGRUB(c *gc.C) {
	loader := s.newLoader(c, "")
	err := loader.InstallGRUB()
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCalls(c, []testing.StubCall{{
		FuncName: "Run",
		Args:     []interface{}{"/mnt/sysroot", "grub2-install", []string{}},
	}, {
		FuncName: "Run",
		Args:     []interface{}{"/mnt/sysroot", "update-grub2", []string{}},
	}})
}

func (s *efiSuite) TestInstallGRUBInstallFails(c *gc.C) {
	s.runner.Codes = []int{1}
	loader := s.newLoader(c, "")
	err := loader.InstallGRUB()
	c.Assert(err, gc.ErrorMatches, ".*grub2-install.*failed")
	c.Check(bootloader.IsBootLoaderError(err), jc.IsTrue)
}

func (s *efiSuite) TestInstallGRUBUpdateFails(c *gc.C) {
	s.runner.Codes = []int{0, 1}
	loader := s.newLoader(c, "")
	err := loader.InstallGRUB()
	c.Assert(err, gc.ErrorMatches, ".*update-grub2.*failed")
	c.Check(bootloader.IsBootLoaderError(err), jc.IsTrue)
}

func (s *efiSuite) TestWrite(c *gc.C) {
	s.runner.Outputs = []string{efibootmgrOutput}
	loader := s.newLoader(c, "")
	err := loader.Write(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCallNames(c, "Run", "Run", "RunCapture", "Run", "Run")
}

func (s *efiSuite) TestWriteKeepBootOrder(c *gc.C) {
	s.config.Bootloader.KeepBootOrder = true
	loader := s.newLoader(c, "")
	err := loader.Write(bootloader.Device{
		Type:      "partition",
		Disk:      "/dev/sda",
		Partition: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckCallNames(c, "Run", "Run", "Run")
}

func (s *efiSuite) TestWriteSkipped(c *gc.C) {
	s.config.Bootloader.Skip = true
	loader := s.newLoader(c, "")
	err := loader.Write(bootloader.Device{Type: "partition"})
	c.Assert(err, jc.ErrorIsNil)
	s.runner.CheckNoCalls(c)
}
