package core

// Vendor is a PCI vendor id of a GPU manufacturer.
type Vendor uint32

const (
	VendorUnknown   Vendor = 0x0
	VendorAMD       Vendor = 0x1002
	VendorImgTec    Vendor = 0x1010
	VendorApple     Vendor = 0x106B
	VendorNvidia    Vendor = 0x10DE
	VendorARM       Vendor = 0x13B5
	VendorMicrosoft Vendor = 0x1414
	VendorQualcomm  Vendor = 0x5143
	VendorIntel     Vendor = 0x8086
)

var vendorNames = map[Vendor]string{
	VendorAMD:       "AMD",
	VendorImgTec:    "ImgTec",
	VendorApple:     "Apple",
	VendorNvidia:    "NVIDIA",
	VendorARM:       "ARM",
	VendorMicrosoft: "Microsoft",
	VendorQualcomm:  "Qualcomm",
	VendorIntel:     "Intel",
}

// VendorFromID maps a raw PCI id to a known vendor, or VendorUnknown.
func VendorFromID(id uint32) Vendor {
	v := Vendor(id)
	if _, ok := vendorNames[v]; ok {
		return v
	}
	return VendorUnknown
}

func (v Vendor) String() string {
	if name, ok := vendorNames[v]; ok {
		return name
	}
	return "Unknown"
}
