package android

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"

	"github.com/oshokin/cargo-flutter/internal/config"
)

const (
	manifestFilename = "AndroidManifest.xml"
	androidNamespace = "http://schemas.android.com/apk/res/android"
	fullscreenTheme  = "@android:style/Theme.DeviceDefault.NoActionBar.Fullscreen"
	nativeActivity   = "android.app.NativeActivity"
	activityChanges  = "orientation|keyboardHidden|screenSize"
)

type manifestXML struct {
	XMLName     xml.Name        `xml:"manifest"`
	Namespace   string          `xml:"xmlns:android,attr"`
	Package     string          `xml:"package,attr"`
	VersionCode string          `xml:"android:versionCode,attr"`
	VersionName string          `xml:"android:versionName,attr,omitempty"`
	UsesSdk     usesSdkXML      `xml:"uses-sdk"`
	Permissions []permissionXML `xml:"uses-permission"`
	Application applicationXML  `xml:"application"`
}

type usesSdkXML struct {
	MinSdkVersion    string `xml:"android:minSdkVersion,attr"`
	TargetSdkVersion string `xml:"android:targetSdkVersion,attr"`
}

type permissionXML struct {
	Name string `xml:"android:name,attr"`
}

type applicationXML struct {
	Label    string      `xml:"android:label,attr"`
	HasCode  string      `xml:"android:hasCode,attr"`
	Icon     string      `xml:"android:icon,attr,omitempty"`
	Theme    string      `xml:"android:theme,attr,omitempty"`
	Activity activityXML `xml:"activity"`
}

type activityXML struct {
	Name          string          `xml:"android:name,attr"`
	Label         string          `xml:"android:label,attr"`
	ConfigChanges string          `xml:"android:configChanges,attr"`
	MetaData      metaDataXML     `xml:"meta-data"`
	IntentFilter  intentFilterXML `xml:"intent-filter"`
}

type metaDataXML struct {
	Name  string `xml:"android:name,attr"`
	Value string `xml:"android:value,attr"`
}

type intentFilterXML struct {
	Action   nameXML `xml:"action"`
	Category nameXML `xml:"category"`
}

type nameXML struct {
	Name string `xml:"android:name,attr"`
}

// renderManifest builds AndroidManifest.xml for a NativeActivity application
// that loads the library named libName.
func renderManifest(meta *config.AndroidMetadata, libName string) ([]byte, error) {
	doc := manifestXML{
		Namespace:   androidNamespace,
		Package:     meta.PackageName,
		VersionCode: strconv.Itoa(meta.VersionCode),
		VersionName: meta.VersionName,
		UsesSdk: usesSdkXML{
			MinSdkVersion:    strconv.Itoa(meta.MinSdkVersion),
			TargetSdkVersion: strconv.Itoa(meta.TargetSdkVersion),
		},
		Application: applicationXML{
			Label:   meta.Label,
			HasCode: "false",
			Icon:    meta.Icon,
			Activity: activityXML{
				Name:          nativeActivity,
				Label:         meta.Label,
				ConfigChanges: activityChanges,
				MetaData:      metaDataXML{Name: "android.app.lib_name", Value: libName},
				IntentFilter: intentFilterXML{
					Action:   nameXML{Name: "android.intent.action.MAIN"},
					Category: nameXML{Name: "android.intent.category.LAUNCHER"},
				},
			},
		},
	}

	if meta.Fullscreen {
		doc.Application.Theme = fullscreenTheme
	}

	for _, permission := range meta.Permissions {
		doc.Permissions = append(doc.Permissions, permissionXML{Name: permission})
	}

	body, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshal android manifest: %w", err)
	}

	return append([]byte(xml.Header), body...), nil
}

// writeManifest renders the manifest into path.
func writeManifest(path string, meta *config.AndroidMetadata, libName string) error {
	contents, err := renderManifest(meta, libName)
	if err != nil {
		return err
	}

	if err = os.WriteFile(path, contents, 0o644); err != nil { //nolint:gosec // Packaged file, not a secret.
		return fmt.Errorf("write android manifest: %w", err)
	}

	return nil
}
