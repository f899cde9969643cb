package signal

import "strings"

// apiRule tags calls whose "Lclass;->name(...)" reference starts with prefix.
type apiRule struct {
	prefix string
	cat    string
}

var apiRules = []apiRule{
	{"Landroid/telephony/SmsManager;->", CatSMS},
	{"Landroid/telephony/SmsMessage;->", CatSMS},
	{"Landroid/telephony/TelephonyManager;->getDeviceId", CatDeviceInfo},
	{"Landroid/telephony/TelephonyManager;->getImei", CatDeviceInfo},
	{"Landroid/telephony/TelephonyManager;->", CatSIM},
	{"Landroid/telephony/SubscriptionManager;->", CatSIM},
	{"Landroid/provider/ContactsContract", CatContacts},
	{"Landroid/provider/CallLog", CatContacts},
	{"Landroid/location/", CatLocation},
	{"Lcom/google/android/gms/location/", CatLocation},
	{"Landroid/provider/Settings$Secure;->getString", CatDeviceInfo},
	{"Landroid/os/Build;->getSerial", CatDeviceInfo},
	{"Landroid/content/pm/PackageManager;->getInstalled", CatDeviceInfo},
	{"Lcom/google/android/gms/ads/identifier/AdvertisingIdClient;->", CatDeviceInfo},
	{"Landroid/hardware/Camera;->", CatCamera},
	{"Landroid/hardware/camera2/", CatCamera},
	{"Landroid/media/MediaRecorder;->", CatCamera},
	{"Landroid/media/AudioRecord;->", CatCamera},
	{"Landroid/webkit/WebView;->", CatWebView},
	{"Landroid/webkit/CookieManager;->", CatWebView},
	{"Landroid/content/ClipboardManager;->", CatClipboard},
	{"Ljavax/crypto/", CatEncryption},
	{"Ljava/security/MessageDigest;->", CatEncryption},
	{"Ljava/security/Signature;->", CatEncryption},
	{"Ljava/security/KeyStore;->", CatEncryption},
	{"Ljava/security/KeyPairGenerator;->", CatEncryption},
	{"Landroid/util/Base64;->", CatBase64Key},
	{"Ljava/util/Base64", CatBase64Key},
	{"Ljava/net/", CatNet},
	{"Ljavax/net/", CatNet},
	{"Lokhttp3/", CatNet},
	{"Lretrofit2/", CatNet},
	{"Ljava/lang/reflect/", CatReflection},
	{"Ljava/lang/Class;->forName", CatReflection},
	{"Ljava/lang/Class;->getDeclaredMethod", CatReflection},
	{"Ljava/lang/Class;->getMethod", CatReflection},
	{"Ljava/lang/Class;->getDeclaredField", CatReflection},
	{"Ldalvik/system/DexClassLoader;->", CatDynLoad},
	{"Ldalvik/system/InMemoryDexClassLoader;->", CatDynLoad},
	{"Ldalvik/system/PathClassLoader;->", CatDynLoad},
	{"Ldalvik/system/DexFile;->", CatDynLoad},
	{"Ljava/lang/Runtime;->exec", CatExec},
	{"Ljava/lang/ProcessBuilder;->", CatExec},
	{"Ljava/lang/System;->loadLibrary", CatNative},
	{"Ljava/lang/System;->load(", CatNative},
	{"Ljava/lang/Runtime;->loadLibrary", CatNative},
}

// ClassifyCallee returns the category of a call target, or "" when the
// target is not a tracked Android or Java API. The first matching rule
// wins, so specific prefixes precede the class-wide ones.
func ClassifyCallee(target string) string {
	for _, r := range apiRules {
		if strings.HasPrefix(target, r.prefix) {
			return r.cat
		}
	}
	return ""
}
